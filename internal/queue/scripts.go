package queue

import "github.com/redis/go-redis/v9"

// Scripts take the key prefix as ARGV[1] and derive their keys from it.

var sendScript = redis.NewScript(`
local p = ARGV[1]
local group, dedup, body = ARGV[2], ARGV[3], ARGV[4]
local window = tonumber(ARGV[5])
if dedup ~= '' and window > 0 then
  if not redis.call('SET', p .. 'dedup:' .. dedup, '1', 'NX', 'EX', window) then
    return ''
  end
end
local id = tostring(redis.call('INCR', p .. 'seq'))
id = string.rep('0', 16 - #id) .. id
redis.call('HSET', p .. 'msg:' .. id, 'body', body, 'group', group, 'dedup', dedup, 'receives', 0)
redis.call('RPUSH', p .. 'group:' .. group, id)
redis.call('SADD', p .. 'groups', group)
return id
`)

var receiveScript = redis.NewScript(`
local p = ARGV[1]
local deadline = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local groups = redis.call('SMEMBERS', p .. 'groups')
table.sort(groups)
local out = {}
for _, g in ipairs(groups) do
  if #out >= max then break end
  if redis.call('HEXISTS', p .. 'locked', g) == 0 then
    local taken = 0
    while #out < max do
      local id = redis.call('LPOP', p .. 'group:' .. g)
      if not id then break end
      local key = p .. 'msg:' .. id
      local receives = redis.call('HINCRBY', key, 'receives', 1)
      redis.call('ZADD', p .. 'inflight', deadline, id)
      table.insert(out, {id, g, redis.call('HGET', key, 'body'), receives})
      taken = taken + 1
    end
    if taken > 0 then
      redis.call('HINCRBY', p .. 'locked', g, taken)
    end
    if redis.call('LLEN', p .. 'group:' .. g) == 0 then
      redis.call('SREM', p .. 'groups', g)
    end
  end
end
return out
`)

var ackScript = redis.NewScript(`
local p = ARGV[1]
local id = ARGV[2]
if redis.call('ZREM', p .. 'inflight', id) == 0 then
  return 0
end
local key = p .. 'msg:' .. id
local g = redis.call('HGET', key, 'group')
if g then
  if redis.call('HINCRBY', p .. 'locked', g, -1) <= 0 then
    redis.call('HDEL', p .. 'locked', g)
  end
end
redis.call('DEL', key)
return 1
`)

var reapScript = redis.NewScript(`
local p = ARGV[1]
local now = tonumber(ARGV[2])
local maxReceives = tonumber(ARGV[3])
local ids = redis.call('ZRANGEBYSCORE', p .. 'inflight', '-inf', now)
local requeued, dead = 0, 0
for i = #ids, 1, -1 do
  local id = ids[i]
  redis.call('ZREM', p .. 'inflight', id)
  local key = p .. 'msg:' .. id
  local g = redis.call('HGET', key, 'group')
  if g then
    if redis.call('HINCRBY', p .. 'locked', g, -1) <= 0 then
      redis.call('HDEL', p .. 'locked', g)
    end
    local receives = tonumber(redis.call('HGET', key, 'receives') or '0')
    if receives >= maxReceives then
      redis.call('RPUSH', p .. 'dlq', id)
      dead = dead + 1
    else
      redis.call('LPUSH', p .. 'group:' .. g, id)
      redis.call('SADD', p .. 'groups', g)
      requeued = requeued + 1
    end
  end
end
return {requeued, dead}
`)

var redriveScript = redis.NewScript(`
local p = ARGV[1]
local limit = tonumber(ARGV[2])
local moved = 0
while moved < limit do
  local id = redis.call('LPOP', p .. 'dlq')
  if not id then break end
  local key = p .. 'msg:' .. id
  local g = redis.call('HGET', key, 'group')
  if g then
    redis.call('HSET', key, 'receives', 0)
    redis.call('RPUSH', p .. 'group:' .. g, id)
    redis.call('SADD', p .. 'groups', g)
    moved = moved + 1
  end
end
return moved
`)

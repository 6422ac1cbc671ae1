package ingest

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"assemblyline/internal/assembly"
	"assemblyline/internal/logging"
	"assemblyline/internal/storage"
)

// GroupKey identifies the assembly an object belongs to. It is either an
// AssemblyKey taken from metadata or a SoloKey for objects without one.
type GroupKey interface {
	String() string
	isGroupKey()
}

// AssemblyKey groups objects that carry the same assembly id.
type AssemblyKey struct{ ID string }

// SoloKey is the group of a single object that carries no assembly id.
type SoloKey struct{ Bucket, Key string }

func (k AssemblyKey) String() string { return "assembly:" + k.ID }
func (k SoloKey) String() string { return "solo:" + k.Bucket + "/" + k.Key }

func (AssemblyKey) isGroupKey() {}
func (SoloKey) isGroupKey() {}

// soloNamespace seeds the name-based ids derived for solo objects.
var soloNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("assemblyline:solo"))

// Skipped records an object dropped during grouping.
type Skipped struct {
	Bucket string
	Key    string
	Reason string
}

// Grouping is the outcome of one Group call.
type Grouping struct {
	Jobs    []assembly.Job
	Skipped []Skipped
}

// Grouper fetches object metadata and groups objects into jobs.
type Grouper struct {
	store         storage.ObjectStore
	defaultBranch string
	logger        *slog.Logger
}

// NewGrouper builds a grouper. defaultBranch applies when neither metadata
// nor the key prefix names a branch.
func NewGrouper(store storage.ObjectStore, defaultBranch string, logger *slog.Logger) *Grouper {
	if logger == nil {
		logger = logging.NewNop()
	}
	if strings.TrimSpace(defaultBranch) == "" {
		defaultBranch = "main"
	}
	return &Grouper{
		store:         store,
		defaultBranch: defaultBranch,
		logger:        logging.NewComponentLogger(logger, "ingest"),
	}
}

type member struct {
	object ObjectCreated
	info   storage.ObjectInfo
	meta   storage.UploadMetadata
}

// Group fetches metadata for every object and returns one job per group, in
// the order groups were first seen. A metadata failure drops only the
// affected object.
func (g *Grouper) Group(ctx context.Context, objects []ObjectCreated) Grouping {
	var out Grouping
	order := make([]GroupKey, 0, len(objects))
	groups := make(map[GroupKey][]member, len(objects))

	for _, obj := range objects {
		info, err := g.store.Stat(ctx, obj.Bucket, obj.Key)
		if err != nil {
			g.skip(&out, obj, "metadata fetch failed", err)
			continue
		}
		meta, err := storage.DecodeMetadata(info.Metadata)
		if err != nil {
			g.skip(&out, obj, "metadata decode failed", err)
			continue
		}
		var key GroupKey = SoloKey{Bucket: obj.Bucket, Key: obj.Key}
		if meta.AssemblyID != "" {
			key = AssemblyKey{ID: meta.AssemblyID}
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], member{object: obj, info: info, meta: meta})
	}

	for _, key := range order {
		job, ok := g.buildJob(key, groups[key])
		if !ok {
			for _, m := range groups[key] {
				g.skip(&out, m.object, "missing templateId", nil)
			}
			continue
		}
		out.Jobs = append(out.Jobs, job)
	}
	return out
}

func (g *Grouper) buildJob(key GroupKey, members []member) (assembly.Job, bool) {
	job := assembly.Job{}
	for _, m := range members {
		job.Inputs = append(job.Inputs, assembly.ObjectRef{
			Bucket:      m.object.Bucket,
			Key:         m.object.Key,
			Size:        firstNonZero(m.info.Size, m.object.Size),
			ETag:        firstNonEmpty(m.info.ETag, m.object.ETag),
			ContentType: firstNonEmpty(m.meta.ContentType, m.info.ContentType),
		})
		if job.TemplateID == "" {
			job.TemplateID = m.meta.TemplateID
		} else if m.meta.TemplateID != "" && m.meta.TemplateID != job.TemplateID {
			g.logger.Warn("conflicting template ids within assembly",
				logging.String(logging.FieldKey, m.object.Key),
				logging.String("kept", job.TemplateID),
				logging.String("ignored", m.meta.TemplateID),
			)
		}
		if job.UploadID == "" {
			job.UploadID = m.meta.UploadID
		}
		if job.Branch == "" {
			job.Branch = firstNonEmpty(m.meta.Branch, branchFromKey(m.object.Key))
		}
		if job.Fields == nil {
			fields, err := m.meta.FieldBag()
			if err != nil {
				g.logger.Warn("ignoring undecodable field bag",
					logging.String(logging.FieldKey, m.object.Key),
					logging.Error(err),
				)
			}
			job.Fields = fields
		}
		if job.User == nil && m.meta.UserID != "" {
			job.User = &assembly.UserContext{ID: m.meta.UserID, Permissions: m.meta.Permissions()}
		}
	}
	if job.TemplateID == "" {
		return assembly.Job{}, false
	}
	if job.Branch == "" {
		job.Branch = g.defaultBranch
	}

	switch k := key.(type) {
	case AssemblyKey:
		job.AssemblyID = k.ID
	case SoloKey:
		job.AssemblyID = soloAssemblyID(k, members[0], job)
	}
	if job.UploadID == "" {
		job.UploadID = job.AssemblyID
	}

	g.logger.Debug("grouped objects",
		logging.String(logging.FieldAssemblyID, job.AssemblyID),
		logging.String(logging.FieldTemplateID, job.TemplateID),
		logging.String("group", key.String()),
		logging.Int("inputs", len(job.Inputs)),
	)
	return job, true
}

// soloAssemblyID derives a stable id from the object identity, its content
// tag, the template and the caller.
func soloAssemblyID(key SoloKey, m member, job assembly.Job) string {
	user := ""
	if job.User != nil {
		user = job.User.ID
	}
	etag := firstNonEmpty(m.info.ETag, m.object.ETag)
	name := strings.Join([]string{key.Bucket, key.Key, etag, job.TemplateID, user}, "\n")
	return uuid.NewSHA1(soloNamespace, []byte(name)).String()
}

// branchFromKey reads <branch> from keys shaped uploads/<branch>/<file...>.
func branchFromKey(key string) string {
	parts := strings.Split(path.Clean(strings.TrimPrefix(key, "/")), "/")
	if len(parts) >= 3 && parts[0] == "uploads" {
		return parts[1]
	}
	return ""
}

func (g *Grouper) skip(out *Grouping, obj ObjectCreated, reason string, err error) {
	out.Skipped = append(out.Skipped, Skipped{Bucket: obj.Bucket, Key: obj.Key, Reason: reason})
	attrs := []logging.Attr{
		logging.String(logging.FieldBucket, obj.Bucket),
		logging.String(logging.FieldKey, obj.Key),
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "object dropped from this batch"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WarnWithContext(g.logger, "skipping uploaded object", "ingest_object_skipped", attrs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// Package labeler walks an image tree and renames every unlabelled file
// with the vehicle recognition result, rotating through a pool of access
// tokens as each one runs out of quota.
package labeler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/classify"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
)

// Classifier recognizes the vehicle in one image.
type Classifier interface {
	Classify(ctx context.Context, imagePath, token string) classify.Result
}

// Record statuses.
const (
	StatusLabeled      = "labeled"
	StatusFailed       = "failed"
	StatusSkippedQuota = "skipped_quota"
)

// LabelRecord describes one attempted file.
type LabelRecord struct {
	RunID        string          `json:"run_id"`
	OriginalPath string          `json:"original_path"`
	NewPath      string          `json:"new_path,omitempty"`
	Status       string          `json:"status"`
	First        classify.Choice `json:"first"`
	Second       classify.Choice `json:"second"`
	Kind         string          `json:"kind"`
	TokenIndex   int             `json:"token_index"`
	Attempts     int             `json:"attempts"`
	DryRun       bool            `json:"dry_run"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RecordStore persists label records.
type RecordStore interface {
	SaveLabel(ctx context.Context, rec LabelRecord) error
}

// Summary is the outcome of one walk.
type Summary struct {
	RunID      string        `json:"run_id"`
	Root       string        `json:"root"`
	Processed  int           `json:"processed"`  // files renamed or failed
	Labeled    int           `json:"labeled"`    // renamed with recognition fields
	Unresolved int           `json:"unresolved"` // renamed with sentinel fields
	Failed     int           `json:"failed"`     // rename errors
	Skipped    int           `json:"skipped"`    // already labelled or filtered out
	Rotations  int           `json:"rotations"`
	TokenIndex int           `json:"token_index"`
	Exhausted  bool          `json:"exhausted"`
	DryRun     bool          `json:"dry_run"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Observer receives the summary of each walk. Errors are logged.
type Observer interface {
	OnLabelComplete(ctx context.Context, summary Summary) error
}

// FileObserver is implemented by observers that track individual files.
type FileObserver interface {
	OnFile(rec LabelRecord)
}

// RotationObserver is implemented by observers that track token rotation.
type RotationObserver interface {
	OnRotation(from, to int)
}

// Agent labels image trees.
type Agent struct {
	fs         afero.Fs
	classifier Classifier
	rotation   *Rotation
	store      RecordStore
	observers  []Observer
	extensions map[string]struct{}
	dryRun     bool
	log        logger.Logger
	now        func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithFs sets the filesystem to walk. The default is the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(a *Agent) { a.fs = fs }
}

// WithStore sets the sidecar record store.
func WithStore(s RecordStore) Option {
	return func(a *Agent) { a.store = s }
}

// WithObserver registers observers.
func WithObserver(obs ...Observer) Option {
	return func(a *Agent) { a.observers = append(a.observers, obs...) }
}

// WithExtensions restricts labelling to files with these extensions.
// Matching ignores case and a leading dot.
func WithExtensions(exts ...string) Option {
	return func(a *Agent) {
		for _, e := range exts {
			e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
			if e == "" {
				continue
			}
			if a.extensions == nil {
				a.extensions = make(map[string]struct{})
			}
			a.extensions[e] = struct{}{}
		}
	}
}

// WithDryRun logs planned renames without touching the filesystem.
func WithDryRun(dryRun bool) Option {
	return func(a *Agent) { a.dryRun = dryRun }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// NewAgent creates an agent that classifies with c and draws tokens from
// rotation. The rotation is shared with the caller and advanced in place.
func NewAgent(c Classifier, rotation *Rotation, opts ...Option) *Agent {
	a := &Agent{
		classifier: c,
		rotation:   rotation,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	if a.log == nil {
		a.log = GetLogger()
	}
	return a
}

// LabelTree walks root in lexical order and labels every unlabelled file.
// When the last token reports quota exhaustion the walk stops, the current
// file is left untouched and the returned error wraps ErrPoolExhausted.
func (a *Agent) LabelTree(ctx context.Context, root string) (Summary, error) {
	start := a.now()
	summary := Summary{
		RunID:  uuid.NewString(),
		Root:   root,
		DryRun: a.dryRun,
	}
	log := a.log.WithContext(ctx).With(logger.String("run_id", summary.RunID), logger.String("root", root))

	err := a.walk(ctx, root, &summary, log)

	summary.TokenIndex = a.rotation.Index
	summary.Duration = a.now().Sub(start)
	summary.Err = err

	if err != nil {
		log.Error("labelling stopped",
			logger.Error(err),
			logger.Int("processed", summary.Processed),
			logger.Bool("exhausted", summary.Exhausted))
	} else {
		log.Info("labelling finished",
			logger.Int("processed", summary.Processed),
			logger.Int("labeled", summary.Labeled),
			logger.Int("unresolved", summary.Unresolved),
			logger.Int("failed", summary.Failed),
			logger.Int("skipped", summary.Skipped),
			logger.Int("rotations", summary.Rotations),
			logger.Duration("duration", summary.Duration))
	}

	notifyCtx := context.WithoutCancel(ctx)
	for _, o := range a.observers {
		if oerr := o.OnLabelComplete(notifyCtx, summary); oerr != nil {
			log.Warn("observer failed on label complete", logger.String("observer", fmt.Sprintf("%T", o)), logger.Error(oerr))
		}
	}
	return summary, err
}

func (a *Agent) walk(ctx context.Context, root string, summary *Summary, log logger.Logger) error {
	if _, ok := a.rotation.Current(); !ok {
		summary.Exhausted = true
		return errors.New(ErrPoolExhausted).
			Component("labeler").
			Category(errors.CategoryLimit).
			Context("tokens", len(a.rotation.Tokens)).
			Build()
	}

	if _, err := a.fs.Stat(root); err != nil {
		return errors.New(err).
			Component("labeler").
			Category(errors.CategoryFileIO).
			Context("root", root).
			Build()
	}

	return afero.Walk(a.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warn("skipping unreadable path", logger.String("path", path), logger.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			return nil
		}

		name := info.Name()
		if IsLabelled(name) || !a.matches(name) {
			summary.Skipped++
			return nil
		}
		return a.labelFile(ctx, path, name, summary, log)
	})
}

func (a *Agent) matches(name string) bool {
	if len(a.extensions) == 0 {
		return true
	}
	_, ext := SplitName(name)
	_, ok := a.extensions[strings.ToLower(ext)]
	return ok
}

func (a *Agent) labelFile(ctx context.Context, path, name string, summary *Summary, log logger.Logger) error {
	rec := LabelRecord{
		RunID:        summary.RunID,
		OriginalPath: path,
		DryRun:       a.dryRun,
	}

	var res classify.Result
	for {
		token, _ := a.rotation.Current()
		rec.TokenIndex = a.rotation.Index
		res = a.classifier.Classify(ctx, path, token)
		rec.Attempts += max(res.Attempts, 1)
		rec.Kind = res.Kind.String()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if res.Kind != classify.KindQuotaExhausted {
			break
		}

		from := a.rotation.Index
		if !a.rotation.Advance() {
			summary.Exhausted = true
			rec.Status = StatusSkippedQuota
			rec.Error = errString(res.Err)
			a.finish(ctx, rec, log)
			log.Warn("credential pool exhausted", logger.String("path", path), logger.Int("tokens", len(a.rotation.Tokens)))
			return errors.New(fmt.Errorf("%w: %s", ErrPoolExhausted, path)).
				Component("labeler").
				Category(errors.CategoryLimit).
				Context("operation", "rotate_token").
				Context("tokens", len(a.rotation.Tokens)).
				Context("processed", summary.Processed).
				Build()
		}
		summary.Rotations++
		log.Info("token quota exhausted, rotating",
			logger.Int("from", from),
			logger.Int("to", a.rotation.Index),
			logger.Int("remaining", a.rotation.Remaining()))
		a.notifyRotation(from, a.rotation.Index)
	}

	var newName string
	if res.Kind == classify.KindOK {
		newName = LabelledName(name, res.Choices)
		rec.First, rec.Second = pick(res.Choices)
	} else {
		newName = SentinelName(name)
		rec.First, rec.Second = sentinel, sentinel
		rec.Error = errString(res.Err)
		log.Warn("classification failed, using sentinel name",
			logger.String("path", path),
			logger.String("kind", res.Kind.String()),
			logger.Error(res.Err))
	}

	target := filepath.Join(filepath.Dir(path), newName)
	rec.NewPath = target
	summary.Processed++

	if err := a.rename(path, target); err != nil {
		summary.Failed++
		rec.Status = StatusFailed
		rec.Error = err.Error()
		log.Error("rename failed", logger.String("path", path), logger.String("target", target), logger.Error(err))
		a.finish(ctx, rec, log)
		return nil
	}

	if res.Kind == classify.KindOK {
		summary.Labeled++
		rec.Status = StatusLabeled
	} else {
		summary.Unresolved++
		rec.Status = StatusFailed
	}
	a.finish(ctx, rec, log)
	return nil
}

func (a *Agent) rename(path, target string) error {
	exists, err := afero.Exists(a.fs, target)
	if err != nil {
		return err
	}
	if exists {
		return errors.Newf("rename target already exists: %s", target).
			Component("labeler").
			Category(errors.CategoryConflict).
			FileContext(path, 0).
			Context("path", path).
			Build()
	}
	if a.dryRun {
		a.log.Info("dry run, would rename", logger.String("path", path), logger.String("target", target))
		return nil
	}
	if err := a.fs.Rename(path, target); err != nil {
		return errors.New(err).
			Component("labeler").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("path", path).
			Build()
	}
	a.log.Debug("renamed", logger.String("path", path), logger.String("target", target))
	return nil
}

// finish saves the record and tells file observers about it.
func (a *Agent) finish(ctx context.Context, rec LabelRecord, log logger.Logger) {
	rec.CreatedAt = a.now()
	if a.store != nil {
		if err := a.store.SaveLabel(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn("failed to save label record", logger.String("path", rec.OriginalPath), logger.Error(err))
		}
	}
	for _, o := range a.observers {
		if fo, ok := o.(FileObserver); ok {
			fo.OnFile(rec)
		}
	}
}

func (a *Agent) notifyRotation(from, to int) {
	for _, o := range a.observers {
		if ro, ok := o.(RotationObserver); ok {
			ro.OnRotation(from, to)
		}
	}
}

func pick(choices []classify.Choice) (first, second classify.Choice) {
	first, second = sentinel, sentinel
	if len(choices) > 0 {
		first = choices[0]
	}
	if len(choices) > 1 {
		second = choices[1]
	}
	return first, second
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

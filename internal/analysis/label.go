package analysis

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/classify"
	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/httpclient"
	"github.com/tphakala/carnet-go/internal/labeler"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/services"
)

// Label walks root, or the configured root when empty, and labels every
// unlabelled image. When no tokens are configured one is exchanged from
// the API key and secret.
func Label(ctx context.Context, settings *conf.Settings, root string, w io.Writer) (labeler.Summary, error) {
	if err := conf.ValidateLabelSettings(settings); err != nil {
		return labeler.Summary{}, err
	}
	if root == "" {
		root = settings.Label.Root
	}
	if root == "" {
		return labeler.Summary{}, configError("no label root given").Build()
	}

	hc := newHTTPClient(settings)
	defer hc.Close()

	tokens := settings.Baidu.Tokens
	if len(tokens) == 0 {
		tok, err := classify.TokenSourceFromSettings(&settings.Baidu, hc).Token(ctx)
		if err != nil {
			return labeler.Summary{}, err
		}
		tokens = []string{tok.AccessToken}
	}

	svc, err := services.Open(settings)
	if err != nil {
		return labeler.Summary{}, err
	}
	defer svc.Close(context.WithoutCancel(ctx))

	client, err := classify.New(classify.ConfigFromSettings(&settings.Baidu),
		classify.WithHTTPClient(hc),
		classify.WithRecorder(svc.Metrics.Labeling))
	if err != nil {
		return labeler.Summary{}, err
	}

	opts := []labeler.Option{
		labeler.WithObserver(svc.LabelObservers()...),
		labeler.WithExtensions(settings.Label.Extensions...),
		labeler.WithDryRun(settings.Label.DryRun),
	}
	if store := svc.RecordStore(); settings.Label.Records && store != nil {
		opts = append(opts, labeler.WithStore(store))
	} else if settings.Label.Records {
		GetLogger().Warn("label records requested but no datastore is enabled")
	}

	agent := labeler.NewAgent(client, labeler.NewRotation(tokens), opts...)
	summary, err := agent.LabelTree(ctx, root)
	printLabelSummary(w, summary)

	m := client.GetMetrics()
	GetLogger().Debug("classify client metrics",
		logger.Int64("requests", m.Requests),
		logger.Int64("cache_hits", m.CacheHits))
	return summary, err
}

// Clean repairs names under root that lost the dot before their jpg
// extension.
func Clean(fs afero.Fs, root string, w io.Writer) (int, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	n, err := labeler.AutoClean(fs, root)
	fmt.Fprintf(w, "renamed %d files under %s\n", n, root)
	return n, err
}

// Token exchanges the configured API key and secret for an access token
// and writes it with its expiry to w.
func Token(ctx context.Context, settings *conf.Settings, w io.Writer) error {
	if !settings.Baidu.HasClientCredentials() {
		return errors.Newf("baidu apikey and secretkey are required").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	hc := newHTTPClient(settings)
	defer hc.Close()

	tok, err := classify.TokenSourceFromSettings(&settings.Baidu, hc).Token(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, tok.AccessToken)
	if !tok.Expiry.IsZero() {
		fmt.Fprintf(w, "expires %s (in %s)\n", tok.Expiry.Format(time.RFC3339), time.Until(tok.Expiry).Round(time.Second))
	}
	return nil
}

func newHTTPClient(settings *conf.Settings) *httpclient.Client {
	ua := "carnet-go"
	if settings.Version != "" {
		ua += "/" + settings.Version
	}
	return httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Baidu.Timeout,
		UserAgent:      ua,
	})
}

func printLabelSummary(w io.Writer, s labeler.Summary) {
	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "labelled %s%s in %s\n", s.Root, mode, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  processed:  %d\n", s.Processed)
	fmt.Fprintf(w, "  labeled:    %d\n", s.Labeled)
	fmt.Fprintf(w, "  unresolved: %d\n", s.Unresolved)
	fmt.Fprintf(w, "  failed:     %d\n", s.Failed)
	fmt.Fprintf(w, "  skipped:    %d\n", s.Skipped)
	fmt.Fprintf(w, "  rotations:  %d (token %d)\n", s.Rotations, s.TokenIndex)
	if s.Exhausted {
		fmt.Fprintln(w, "  credential pool exhausted")
	}
}

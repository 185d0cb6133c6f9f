package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"markdown-composer/internal/render"
	"markdown-composer/internal/telemetry"
	httptransport "markdown-composer/internal/transport/http"
)

const tracerName = "markdown-composer/app"

// Options configures a LivePreview.
type Options struct {
	Addr    string
	Theme   string
	BaseDir string
	Logger  zerolog.Logger
}

// LivePreview is a coordinator between markdown rendering and HTTP delivery.
// It satisfies contracts.Renderer.
type LivePreview struct {
	renderer *render.Renderer
	preview  *httptransport.PreviewServer
	tracer   trace.Tracer
	log      zerolog.Logger
}

func NewLivePreview(opts Options) *LivePreview {
	renderer := render.NewRenderer(
		render.WithTheme(opts.Theme),
		render.WithBaseDir(opts.BaseDir),
	)
	return &LivePreview{
		renderer: renderer,
		preview:  httptransport.NewPreviewServer(opts.Addr, renderer.RenderShell(), opts.Logger),
		tracer:   otel.Tracer(tracerName),
		log:      opts.Logger,
	}
}

// Start binds the preview server so URL is final.
func (s *LivePreview) Start() error {
	return s.preview.Start()
}

func (s *LivePreview) Stop() error {
	return s.preview.Stop()
}

func (s *LivePreview) URL() string {
	return s.preview.URL()
}

// Update renders document and hands it to connected browsers. Failures are
// logged; the caller never sees them.
func (s *LivePreview) Update(document string) {
	if err := s.PublishSource([]byte(document)); err != nil {
		s.log.Error().Err(err).Int("bytes", len(document)).Msg("preview update failed")
	}
}

// PublishSource renders source and publishes the result.
func (s *LivePreview) PublishSource(source []byte) error {
	_, span := s.tracer.Start(context.Background(), "preview.publish",
		trace.WithAttributes(attribute.Int("document.bytes", len(source))),
	)
	defer span.End()

	start := time.Now()
	frag, err := s.renderer.Render(source)
	telemetry.ObserveRender(err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return err
	}
	span.SetAttributes(attribute.Int("html.bytes", len(frag.HTML)))

	if err := s.preview.Publish(frag.HTML, frag.Title); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}
	return nil
}

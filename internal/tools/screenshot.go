package tools

import (
	"context"
	"encoding/json"
	"os"

	"github.com/chromedp/chromedp"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type ScreenshotInput struct {
	URL string `json:"url"`
	// OutputDir overrides the configured temp directory.
	OutputDir string `json:"output_dir,omitempty"`
}

type ScreenshotOutput struct {
	Path   string `json:"path"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type screenshot struct {
	cfg    config.ScreenshotConfig
	logger *logger.Logger
}

func NewScreenshot(cfg config.ScreenshotConfig, log *logger.Logger) *screenshot {
	return &screenshot{cfg: cfg, logger: log.WithComponent(NameScreenshot)}
}

func (t *screenshot) Name() string { return NameScreenshot }

func (t *screenshot) Run(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var input ScreenshotInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, types.NewValidationError("undecodable screenshot input: " + err.Error())
	}
	if input.URL == "" {
		return nil, types.NewValidationError("screenshot requires a url")
	}

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("ignore-certificate-errors", true),
		)...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var png []byte
	err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(int64(t.cfg.Width), int64(t.cfg.Height)),
		chromedp.Navigate(input.URL),
		chromedp.FullScreenshot(&png, 90),
	)
	if err != nil {
		return nil, types.NewToolError(NameScreenshot, err)
	}

	dir := input.OutputDir
	if dir == "" {
		dir = t.cfg.TempDir
	}
	file, err := os.CreateTemp(dir, "screenshot-*.png")
	if err != nil {
		return nil, types.NewToolError(NameScreenshot, err)
	}
	defer file.Close()
	if _, err := file.Write(png); err != nil {
		return nil, types.NewToolError(NameScreenshot, err)
	}

	t.logger.Infow("Screenshot captured",
		"url", input.URL, "path", file.Name(), "bytes", len(png))
	return ScreenshotOutput{
		Path:   file.Name(),
		URL:    input.URL,
		Width:  t.cfg.Width,
		Height: t.cfg.Height,
	}, nil
}

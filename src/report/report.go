package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"TripExplorer/src/config"
	"TripExplorer/src/processor"

	"github.com/schollz/progressbar/v3"
)

// Options 报告输出参数
type Options struct {
	OutputDir  string
	ReportName string
	Labels     *config.DataConfig
	Progress   io.Writer // 进度条输出，nil时不显示
}

// Result 生成的文件
type Result struct {
	Workbook string
	PDF      string
}

// Files 所有生成文件的路径
func (r *Result) Files() []string {
	return []string{r.Workbook, r.PDF}
}

// NewOptions 由配置生成报告参数
func NewOptions(cfg *config.Config, dcfg *config.DataConfig) Options {
	return Options{
		OutputDir:  cfg.OutputDir,
		ReportName: cfg.ReportName,
		Labels:     dcfg,
	}
}

func (o Options) label(key, fallback string) string {
	if o.Labels == nil {
		return fallback
	}
	return o.Labels.GetLabel(key, fallback)
}

// Render 将分析结果写成 xlsx 工作簿和 pdf 摘要
func Render(a *processor.Analysis, opts Options) (*Result, error) {
	if a == nil || a.Table == nil {
		return nil, fmt.Errorf("render: empty analysis")
	}
	if opts.ReportName == "" {
		opts.ReportName = "report"
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	w := opts.Progress
	if w == nil {
		w = io.Discard
	}
	sections := workbookSections(a, opts)
	bar := progressbar.NewOptions(len(sections)+1,
		progressbar.OptionSetDescription("rendering "+opts.ReportName),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
	)

	res := &Result{
		Workbook: filepath.Join(opts.OutputDir, opts.ReportName+".xlsx"),
		PDF:      filepath.Join(opts.OutputDir, opts.ReportName+".pdf"),
	}

	if err := writeWorkbook(res.Workbook, sections, func() { _ = bar.Add(1) }); err != nil {
		return nil, err
	}

	pdf, err := BuildSummaryPDF(a, opts.label("title", "Ford GoBike trip exploration"))
	if err != nil {
		return nil, fmt.Errorf("build pdf: %w", err)
	}
	if err := os.WriteFile(res.PDF, pdf, 0644); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	_ = bar.Add(1)
	_ = bar.Finish()
	return res, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"TripExplorer/src/config"
	"TripExplorer/src/datapush"
	"TripExplorer/src/datasource/email"
	"TripExplorer/src/datasource/file"
	"TripExplorer/src/processor"
	"TripExplorer/src/report"
	"TripExplorer/src/storage"

	"github.com/robfig/cron"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	deliveryFlags := []cli.Flag{
		&cli.BoolFlag{Name: "push", Usage: "Send the findings to the DingTalk robot"},
		&cli.BoolFlag{Name: "mail", Usage: "Mail the rendered report"},
	}

	return &cli.App{
		Name:    "tripexplorer",
		Usage:   "Exploratory analysis of bike-share trip exports",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./config",
				Usage:   "Folder holding config.json and dataconfig.json",
			},
		},
		Action: runAnalysis,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Analyse a trip file once and render the report",
				Action: runAnalysis,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "Trip file, overrides data_dir/data_file",
					},
				}, deliveryFlags...),
			},
			{
				Name:   "watch",
				Usage:  "Re-run on new trip files, on schedule and on new export mails",
				Action: watch,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "log-addr",
						Usage: "Serve streaming logs at http://<addr>/logs, e.g. :8080",
					},
				}, deliveryFlags...),
			},
			{
				Name:   "fetch",
				Usage:  "Fetch the newest trip export mail, then analyse it",
				Action: fetch,
				Flags:  deliveryFlags,
			},
		},
	}
}

// runner 串行执行分析，watch模式下文件事件和定时任务共用
type runner struct {
	cfg    *config.Config
	dcfg   *config.DataConfig
	logger *storage.Logger
	push   bool
	mail   bool
	out    io.Writer
	mu     sync.Mutex
}

func newRunner(c *cli.Context) (*runner, error) {
	cfg, dcfg, err := config.LoadConfig(c.String("config"), "config.json", "dataconfig.json")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := storage.NewLogger(filepath.Join(cfg.OutputDir, cfg.LogName))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &runner{
		cfg:    cfg,
		dcfg:   dcfg,
		logger: logger,
		push:   c.Bool("push"),
		mail:   c.Bool("mail"),
		out:    c.App.ErrWriter,
	}, nil
}

func (r *runner) Close() error {
	return r.logger.Close()
}

// analyse 加载分析一个文件，生成报告并按需推送/发邮件
func (r *runner) analyse(path string) (*report.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.logger.CheckRotate(r.cfg.LogMaxSize); err != nil {
		r.logger.Warning("日志轮转失败: " + err.Error())
	}

	a, err := processor.Analyze(path, processor.NewOptions(r.cfg, r.dcfg), r.logger)
	if err != nil {
		return nil, err
	}

	opts := report.NewOptions(r.cfg, r.dcfg)
	opts.Progress = r.out
	res, err := report.Render(a, opts)
	if err != nil {
		r.logger.Error("生成报告失败: " + err.Error())
		return nil, err
	}
	r.logger.Info(fmt.Sprintf("报告已生成: %s", strings.Join(res.Files(), ", ")))

	var errs []error
	if r.push {
		if pusher := datapush.NewPusher(r.cfg); pusher == nil {
			r.logger.Warning("未配置钉钉webhook，跳过推送")
		} else if err := pusher.PushAnalysis(a, res.Files()...); err != nil {
			r.logger.Error("推送失败: " + err.Error())
			errs = append(errs, err)
		}
	}
	if r.mail {
		body := strings.Join(a.Summary(), "\n")
		if err := email.SendReport(r.cfg, body, res.Files()...); err != nil {
			r.logger.Error(err.Error())
			errs = append(errs, err)
		} else {
			r.logger.Info("报告邮件已发送")
		}
	}
	return res, errors.Join(errs...)
}

// fetchMail 收取最新的行程导出邮件并保存附件，没有新邮件时返回空路径
func (r *runner) fetchMail(handler *email.AttachmentHandler) (string, error) {
	client := email.NewEmailClient(r.cfg.Email.Server, r.cfg.Email.Username, r.cfg.Email.Password)
	mail, err := email.CheckAndProcessEmails(client, r.cfg.Email.TargetSubject, r.logger)
	if err != nil {
		return "", err
	}
	if mail == nil {
		return "", nil
	}
	return handler.Handle(mail, r.logger)
}

func runAnalysis(c *cli.Context) error {
	r, err := newRunner(c)
	if err != nil {
		return err
	}
	defer r.Close()

	path := r.cfg.DataPath()
	if c.IsSet("data") {
		path = c.String("data")
	}
	_, err = r.analyse(path)
	return err
}

func fetch(c *cli.Context) error {
	r, err := newRunner(c)
	if err != nil {
		return err
	}
	defer r.Close()

	path, err := r.fetchMail(email.NewAttachmentHandler(r.cfg.DataDir))
	if err != nil {
		return fmt.Errorf("检查处理邮件失败: %w", err)
	}
	if path == "" {
		fmt.Fprintln(c.App.Writer, "no new trip export mail")
		return nil
	}
	_, err = r.analyse(path)
	return err
}

func watch(c *cli.Context) error {
	r, err := newRunner(c)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	file.SetupSignalHandler(cancel)

	if addr := c.String("log-addr"); addr != "" {
		srv := startWebUI(addr, r.logger)
		defer srv.Close()
	}

	if err := os.MkdirAll(r.cfg.DataDir, 0755); err != nil {
		return err
	}
	monitor, err := file.NewFileMonitor(r.cfg.DataDir, ".csv", ".xlsx")
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.cfg.DataDir, err)
	}
	defer monitor.Close()

	runLogged := func(path string) {
		if _, err := r.analyse(path); err != nil {
			r.logger.Error(fmt.Sprintf("处理 %s 失败: %v", path, err))
		}
	}

	sched := cron.New()
	if err := sched.AddFunc(r.cfg.Schedule, func() {
		r.logger.Info(fmt.Sprintf("定时分析(%s)", r.cfg.Schedule))
		runLogged(r.cfg.DataPath())
	}); err != nil {
		return fmt.Errorf("创建定时任务失败: %w", err)
	}

	if r.cfg.Email.Server != "" && r.cfg.Email.CheckInterval > 0 {
		handler := email.NewAttachmentHandler(r.cfg.DataDir)
		// 附件保存到数据目录后由文件监听触发分析
		spec := fmt.Sprintf("@every %s", time.Duration(r.cfg.Email.CheckInterval))
		if err := sched.AddFunc(spec, func() {
			if _, err := r.fetchMail(handler); err != nil {
				r.logger.Error("检查处理邮件失败: " + err.Error())
			}
		}); err != nil {
			return fmt.Errorf("创建邮件检查任务失败: %w", err)
		}
	}

	sched.Start()
	defer sched.Stop()

	r.logger.Info(fmt.Sprintf("监听 %s (定时: %s)，按Ctrl+C退出", r.cfg.DataDir, r.cfg.Schedule))
	return monitor.Watch(ctx, runLogged)
}

// startWebUI 在/logs上流式输出日志
func startWebUI(addr string, logger *storage.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/logs", logStream(logger))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("日志服务退出: " + err.Error())
		}
	}()
	return srv
}

func logStream(logger *storage.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		logChan := logger.Subscribe()
		defer logger.Unsubscribe(logChan)
		for {
			select {
			case msg := <-logChan:
				// 客户端断开时写入失败
				if _, err := fmt.Fprint(w, msg); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

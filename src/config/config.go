package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config 结构体定义了应用程序的配置结构
type Config struct {
	Email struct {
		Server        string   `json:"server"`         // IMAP服务器地址
		Username      string   `json:"username"`       // 邮箱用户名
		Password      string   `json:"password"`       // 邮箱密码
		TargetSubject string   `json:"target_subject"` // 行程数据邮件主题关键词
		CheckInterval Duration `json:"check_interval"` // 检查新邮件的间隔时间
	} `json:"email"`

	DataDir    string `json:"data_dir"`  // 行程数据目录
	DataFile   string `json:"data_file"` // 行程数据文件名
	SheetName  string `json:"sheet_name"`
	OutputDir  string `json:"output_dir"`  // 报告输出目录
	ReportName string `json:"report_name"` // 报告文件名(不含扩展名)
	LogName    string `json:"log_name"`
	LogMaxSize string `json:"log_max_size"`
	Schedule   string `json:"schedule"` // watch模式下的定时表达式
	SendEmail  struct {
		Server   string   `json:"server"`   // SMTP服务器地址
		Username string   `json:"username"` // 发件人
		Password string   `json:"password"` // 发件密码/授权码
		To       []string `json:"to"`       // 收件人
		Subject  string   `json:"subject"`  // 报告邮件主题
	} `json:"send_email"`
	Push struct {
		Webhook string `json:"webhook"` // 钉钉机器人地址
		Secret  string `json:"secret"`  // 加签密钥
		Keyword string `json:"keyword"` // 机器人安全关键词
	} `json:"push"`
}

// DataConfig 数据处理相关配置
type DataConfig struct {
	TimeLayouts []string          `json:"time_layouts"`
	HeaderRow   int               `json:"header_row"` // xlsx标题行(从0开始)
	HeadRows    int               `json:"head_rows"`
	Histogram   HistogramConfig   `json:"histogram"`
	Labels      map[string]string `json:"labels"`
}

type HistogramConfig struct {
	BinSec int `json:"bin_sec"`
	MaxSec int `json:"max_sec"`
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	mu                 sync.RWMutex
)

// LoadConfig 加载配置，进程内只加载一次
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	var err error
	once.Do(func() {
		instance, dataConfigInstance, err = loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, err
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	applyEnv(cfg)
	applyDefaults(cfg, dcfg)
	return cfg, dcfg, nil
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	resultChan <- &cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	var dcfg DataConfig
	if err := json.Unmarshal(data, &dcfg); err != nil {
		errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
		return
	}
	resultChan <- &dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg    *Config
		dcfg   *DataConfig
		errors []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return nil, nil, combineErrors(errors)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

// applyEnv 用 .env 和环境变量覆盖敏感配置
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("TRIPEXP_EMAIL_PASSWORD"); v != "" {
		cfg.Email.Password = v
	}
	if v := os.Getenv("TRIPEXP_SMTP_PASSWORD"); v != "" {
		cfg.SendEmail.Password = v
	}
	if v := os.Getenv("TRIPEXP_PUSH_WEBHOOK"); v != "" {
		cfg.Push.Webhook = v
	}
	if v := os.Getenv("TRIPEXP_PUSH_SECRET"); v != "" {
		cfg.Push.Secret = v
	}
}

func applyDefaults(cfg *Config, dcfg *DataConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.DataFile == "" {
		cfg.DataFile = "201904-fordgobike-tripdata.csv"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	if cfg.ReportName == "" {
		cfg.ReportName = "fordgobike_exploration"
	}
	if cfg.LogName == "" {
		cfg.LogName = "app.log"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 24h"
	}
	if len(dcfg.TimeLayouts) == 0 {
		dcfg.TimeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", time.RFC3339}
	}
	if dcfg.HeadRows <= 0 {
		dcfg.HeadRows = 5
	}
	if dcfg.Histogram.BinSec <= 0 {
		dcfg.Histogram.BinSec = 60
	}
	if dcfg.Histogram.MaxSec <= 0 {
		dcfg.Histogram.MaxSec = 3600
	}
	if dcfg.Labels == nil {
		dcfg.Labels = map[string]string{}
	}
}

// DataPath 行程数据文件完整路径
func (c *Config) DataPath() string {
	return filepath.Join(c.DataDir, c.DataFile)
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// GetLabel 返回图表标题，未配置时返回fallback
func (dc *DataConfig) GetLabel(key, fallback string) string {
	mu.RLock()
	defer mu.RUnlock()
	if v, ok := dc.Labels[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (dc *DataConfig) SetLabel(key, value string) {
	mu.Lock()
	defer mu.Unlock()
	dc.Labels[key] = value
}

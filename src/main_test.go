package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"TripExplorer/src/processor"
	"TripExplorer/src/storage"
)

const trips = `duration_sec,start_time,end_time,start_station_id,start_station_name,start_station_latitude,start_station_longitude,end_station_id,end_station_name,end_station_latitude,end_station_longitude,bike_id,user_type,bike_share_for_all_trip
120,2019-04-01 08:15:00.1230,2019-04-01 08:17:00.5040,342.0,Colin P Kelly Jr St at Townsend St,37.7812,-122.3892,66.0,3rd St at Townsend St,37.7787,-122.3930,4883,Customer,No
300,2019-04-02 17:00:00.0000,2019-04-02 17:05:00.0000,66.0,3rd St at Townsend St,37.7787,-122.3930,,,,,2764,Subscriber,Yes
60,2019-04-07 23:30:00.0000,2019-04-07 23:31:00.0000,342,Colin P Kelly Jr St at Townsend St,37.7812,-122.3892,342,Colin P Kelly Jr St at Townsend St,37.7812,-122.3892,1020,Subscriber,No
`

// 配置在进程内只加载一次，所有用例共用同一个工作目录
var workDir string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "tripexplorer")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	workDir = dir

	if err := setup(dir); err != nil {
		fmt.Println(err)
		os.RemoveAll(dir)
		os.Exit(1)
	}
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func setup(dir string) error {
	cfgDir := filepath.Join(dir, "config")
	dataDir := filepath.Join(dir, "data")
	for _, d := range []string{cfgDir, dataDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}

	cfg := fmt.Sprintf(`{
  "data_dir": %q,
  "data_file": "201904-fordgobike-tripdata.csv",
  "output_dir": %q,
  "report_name": "april",
  "log_name": "app.log",
  "log_max_size": "10 * 1024 * 1024"
}`, dataDir, filepath.Join(dir, "output"))
	dcfg := `{"histogram": {"bin_sec": 60, "max_sec": 600}, "labels": {"weekday": "Rides per weekday"}}`

	files := [][2]string{
		{filepath.Join(cfgDir, "config.json"), cfg},
		{filepath.Join(cfgDir, "dataconfig.json"), dcfg},
		{filepath.Join(dataDir, "201904-fordgobike-tripdata.csv"), trips},
		{filepath.Join(dataDir, "201905-fordgobike-tripdata.csv"), trips},
		{filepath.Join(dataDir, "201906-fordgobike-tripdata-bad.csv"), "duration_sec,user_type\n1,Customer\n"},
	}
	for _, f := range files {
		if err := os.WriteFile(f[0], []byte(f[1]), 0644); err != nil {
			return err
		}
	}
	return nil
}

func runApp(args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"tripexplorer", "--config", filepath.Join(workDir, "config")}, args...))
	return out.String(), err
}

func TestRunDefaultDataFile(t *testing.T) {
	if _, err := runApp("run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"april.xlsx", "april.pdf", "app.log"} {
		if _, err := os.Stat(filepath.Join(workDir, "output", name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	log, err := os.ReadFile(filepath.Join(workDir, "output", "app.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "报告已生成") {
		t.Errorf("log = %s", log)
	}
}

func TestRunDataFlag(t *testing.T) {
	path := filepath.Join(workDir, "data", "201905-fordgobike-tripdata.csv")
	out, err := runApp("run", "--data", path)
	if err != nil {
		t.Fatalf("run --data: %v", err)
	}
	if !strings.Contains(out, "rendering april") {
		t.Errorf("progress output = %q", out)
	}
}

func TestRunErrors(t *testing.T) {
	_, err := runApp("run", "--data", filepath.Join(workDir, "data", "missing.csv"))
	if !errors.Is(err, processor.ErrIO) {
		t.Errorf("missing file: %v", err)
	}

	_, err = runApp("run", "--data", filepath.Join(workDir, "data", "201906-fordgobike-tripdata-bad.csv"))
	if !errors.Is(err, processor.ErrFormat) {
		t.Errorf("bad header: %v", err)
	}
}

func TestRunPushWithoutWebhook(t *testing.T) {
	// 未配置webhook只记录警告
	if _, err := runApp("run", "--push"); err != nil {
		t.Fatalf("run --push: %v", err)
	}
}

func TestRunMailWithoutRecipients(t *testing.T) {
	if _, err := runApp("run", "--mail"); err == nil {
		t.Error("expected error without recipients")
	}
}

func TestLogStream(t *testing.T) {
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "stream.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	srv := httptest.NewServer(logStream(logger))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs", nil)
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		line, err := bufio.NewReader(resp.Body).ReadString('\n')
		done <- result{line: line, err: err}
	}()

	// 订阅在请求到达后才建立，先前的消息会丢失
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			if r.err != nil {
				t.Fatalf("stream: %v", r.err)
			}
			if !strings.Contains(r.line, "INFO: station 342 ready") {
				t.Errorf("line = %q", r.line)
			}
			// 客户端断开后取消订阅
			cancel()
			deadline := time.Now().Add(5 * time.Second)
			for logger.Subscribers() != 0 {
				if time.Now().After(deadline) {
					t.Fatalf("subscribers = %d after disconnect", logger.Subscribers())
				}
				time.Sleep(20 * time.Millisecond)
			}
			return
		case <-ticker.C:
			logger.Info("station 342 ready")
		case <-ctx.Done():
			t.Fatal("no log line streamed")
		}
	}
}

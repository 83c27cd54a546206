package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"TripExplorer/src/config"
	"TripExplorer/src/processor"
	"TripExplorer/src/storage"

	"github.com/xuri/excelize/v2"
)

const trips = `duration_sec,start_time,end_time,start_station_id,start_station_name,start_station_latitude,start_station_longitude,end_station_id,end_station_name,end_station_latitude,end_station_longitude,bike_id,user_type,bike_share_for_all_trip
120,2019-04-01 08:15:00.1230,2019-04-01 08:17:00.5040,342.0,Colin P Kelly Jr St at Townsend St,37.7812,-122.3892,66.0,3rd St at Townsend St,37.7787,-122.3930,4883,Customer,No
300,2019-04-02 17:00:00.0000,2019-04-02 17:05:00.0000,66.0,3rd St at Townsend St,37.7787,-122.3930,,,,,2764,Subscriber,Yes
60,2019-04-07 23:30:00.0000,2019-04-07 23:31:00.0000,342,Colin P Kelly Jr St at Townsend St,37.7812,-122.3892,342,Colin P Kelly Jr St at Townsend St,37.7812,-122.3892,1020,Subscriber,No
`

func analyze(t *testing.T) *processor.Analysis {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trips.csv")
	if err := os.WriteFile(path, []byte(trips), 0644); err != nil {
		t.Fatal(err)
	}
	logger, err := storage.NewLogger(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { logger.Close() })

	a, err := processor.Analyze(path, processor.Options{HistogramBinSec: 60, HistogramMaxSec: 600}, logger)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return a
}

func TestRender(t *testing.T) {
	a := analyze(t)
	out := filepath.Join(t.TempDir(), "out")
	dcfg := &config.DataConfig{Labels: map[string]string{"weekday": "Rides per weekday"}}

	var progress bytes.Buffer
	res, err := Render(a, Options{OutputDir: out, ReportName: "april", Labels: dcfg, Progress: &progress})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Workbook != filepath.Join(out, "april.xlsx") || len(res.Files()) != 2 {
		t.Errorf("result = %+v", res)
	}
	if progress.Len() == 0 {
		t.Error("progress bar wrote nothing")
	}

	f, err := excelize.OpenFile(res.Workbook)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	want := []string{"summary", "profile", "head", "describe", "weekday", "hourly", "duration",
		"user_type", "user_share", "weekday_user_type", "hourly_user_type", "start_station",
		"end_station", "day_duration", "day_duration_max", "hour_day_duration",
		"heatmap_Customer", "heatmap_Subscriber"}
	if strings.Join(sheets, ",") != strings.Join(want, ",") {
		t.Errorf("sheets = %v", sheets)
	}

	rows, err := f.GetRows("weekday")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 8 || rows[1][0] != "Mon" || rows[1][1] != "1" || rows[7][0] != "Sun" {
		t.Errorf("weekday rows = %v", rows)
	}

	heat, err := f.GetRows("heatmap_Subscriber")
	if err != nil {
		t.Fatal(err)
	}
	// 标题行 + 24小时
	if len(heat) != 25 || heat[0][1] != "Mon" || heat[0][7] != "Sun" {
		t.Errorf("heatmap header = %v, rows %d", heat[0], len(heat))
	}
	if len(heat[0]) < 10 || heat[0][9] != "Usage during the weekday: Subscriber" {
		t.Errorf("heatmap title = %v", heat[0])
	}
	customer, err := f.GetRows("heatmap_Customer")
	if err != nil {
		t.Fatal(err)
	}
	if len(customer[0]) < 10 || customer[0][9] != "Usage during the weekday: Customer" {
		t.Errorf("customer heatmap title = %v", customer[0])
	}
	formats, err := f.GetConditionalFormats("heatmap_Subscriber")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := formats["B2:H25"]; !ok {
		t.Errorf("heatmap colour scale missing: %v", formats)
	}

	summary, err := f.GetRows("summary")
	if err != nil {
		t.Fatal(err)
	}
	if summary[1][1] != "3" || summary[5][0] != "Customer" {
		t.Errorf("summary = %v", summary)
	}

	pdf, err := os.ReadFile(res.PDF)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Error("pdf header missing")
	}
}

func TestRenderEmptyAnalysis(t *testing.T) {
	if _, err := Render(nil, Options{OutputDir: t.TempDir()}); err == nil {
		t.Error("expected error for nil analysis")
	}
}

func TestSheetName(t *testing.T) {
	used := map[string]bool{}
	if got := sheetName("heatmap_a/b", used); got != "heatmap_a_b" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 40)
	first := sheetName(long, used)
	second := sheetName(long, used)
	if len(first) != 31 || len(second) != 31 || first == second {
		t.Errorf("long names = %q %q", first, second)
	}
	if got := sheetName("", used); got != "sheet" {
		t.Errorf("empty name = %q", got)
	}
}

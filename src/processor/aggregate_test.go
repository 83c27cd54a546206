package processor

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"TripExplorer/src/storage"
)

func TestAggregateOps(t *testing.T) {
	table := loadDerived(t)

	cases := []struct {
		op   Op
		col  string
		want []float64
	}{
		{Count, "count", []float64{1, 2}},
		{Mean, "duration_sec_mean", []float64{120, 180}},
		{Sum, "duration_sec_sum", []float64{120, 360}},
		{Min, "duration_sec_min", []float64{120, 60}},
		{Max, "duration_sec_max", []float64{120, 300}},
	}
	for _, c := range cases {
		agg, err := table.Aggregate([]string{ColUserType}, ColDurationSec, c.op)
		if err != nil {
			t.Fatalf("%v: %v", c.op, err)
		}
		if got := agg.Col(ColUserType).Records(); !reflect.DeepEqual(got, []string{"Customer", "Subscriber"}) {
			t.Errorf("%v keys = %v", c.op, got)
		}
		if got := agg.Col(c.col).Float(); !reflect.DeepEqual(got, c.want) {
			t.Errorf("%v %s = %v, want %v", c.op, c.col, got, c.want)
		}
	}
}

func TestAggregateMultiKeyOrder(t *testing.T) {
	table := loadDerived(t)
	agg, err := table.Aggregate([]string{ColStartTimeHour, ColStartTimeDay}, "", Count)
	if err != nil {
		t.Fatal(err)
	}
	// 小时按数值排序，不是按字符串
	if got := agg.Col(ColStartTimeHour).Records(); !reflect.DeepEqual(got, []string{"8", "17", "23"}) {
		t.Errorf("hours = %v", got)
	}
	if agg.Nrow() != 3 {
		t.Errorf("groups = %d", agg.Nrow())
	}
}

func TestAggregateErrors(t *testing.T) {
	table := loadDerived(t)
	if _, err := table.Aggregate([]string{"weather"}, "", Count); !errors.Is(err, ErrColumn) {
		t.Errorf("unknown key: %v", err)
	}
	if _, err := table.Aggregate([]string{ColUserType}, "speed", Mean); !errors.Is(err, ErrColumn) {
		t.Errorf("unknown metric: %v", err)
	}
	if _, err := table.Aggregate(nil, "", Count); !errors.Is(err, ErrColumn) {
		t.Errorf("no keys: %v", err)
	}
}

func TestPercentage(t *testing.T) {
	if _, err := Percentage(1, 0); !errors.Is(err, ErrDivision) {
		t.Errorf("Percentage(1, 0) error = %v", err)
	}
	if p, err := Percentage(0, 4); err != nil || p != 0 {
		t.Errorf("Percentage(0, 4) = %v, %v", p, err)
	}
	if p, _ := Percentage(1, 4); p != 25 {
		t.Errorf("Percentage(1, 4) = %v", p)
	}
}

func TestWeekdayAndHourlyCounts(t *testing.T) {
	table := loadDerived(t)

	days, err := WeekdayCounts(table)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(days.Labels, WeekdayOrder) {
		t.Errorf("labels = %v", days.Labels)
	}
	if !reflect.DeepEqual(days.Values, []float64{1, 1, 0, 0, 0, 0, 1}) {
		t.Errorf("values = %v", days.Values)
	}

	hours, err := HourlyCounts(table)
	if err != nil {
		t.Fatal(err)
	}
	if len(hours.Values) != 24 || hours.Value("8") != 1 || hours.Value("0") != 0 || hours.Total() != 3 {
		t.Errorf("hourly = %v", hours.Values)
	}
}

func TestUsageHeatmap(t *testing.T) {
	table := loadDerived(t)

	g, err := UsageHeatmap(table, "Subscriber")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Rows) != 24 || len(g.Cols) != 7 || len(g.Values) != 24 {
		t.Fatalf("grid %dx%d", len(g.Rows), len(g.Cols))
	}
	for _, row := range g.Values {
		if len(row) != 7 {
			t.Fatalf("row width %d", len(row))
		}
	}
	if v, _ := g.At("17", "Tue"); v != 1 {
		t.Errorf("17/Tue = %v", v)
	}
	if v, _ := g.At("23", "Sun"); v != 1 {
		t.Errorf("23/Sun = %v", v)
	}
	if v, _ := g.At("8", "Mon"); v != 0 {
		t.Errorf("customer trip leaked into subscriber heatmap: %v", v)
	}

	// 没有任何骑行的类型仍然是完整的24x7零网格
	empty, err := UsageHeatmap(table, "Tourist")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.Values) != 24 || len(empty.Values[0]) != 7 || empty.Values[0][0] != 0 {
		t.Errorf("empty heatmap = %v", empty.Values)
	}
}

func TestDurationHistogram(t *testing.T) {
	table := loadDerived(t)
	h, err := DurationHistogram(table, 60, 240)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"0-60", "60-120", "120-180", "180-240", ">=240"}
	if !reflect.DeepEqual(h.Labels, want) {
		t.Errorf("labels = %v", h.Labels)
	}
	if !reflect.DeepEqual(h.Values, []float64{0, 1, 1, 0, 1}) {
		t.Errorf("values = %v", h.Values)
	}
	if _, err := DurationHistogram(table, 0, 10); err == nil {
		t.Error("expected error for zero bin")
	}
}

func TestStationAndDurationGrids(t *testing.T) {
	table := loadDerived(t)

	start, err := StationDuration(table, ColStartStationID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(start.Labels, []string{"66", "342"}) || !reflect.DeepEqual(start.Values, []float64{300, 90}) {
		t.Errorf("start stations = %v %v", start.Labels, start.Values)
	}
	end, err := StationDuration(table, ColEndStationID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(end.Labels, []string{"66", "342"}) {
		t.Errorf("empty station id not dropped: %v", end.Labels)
	}
	if _, err := StationDuration(table, ColBikeID); !errors.Is(err, ErrColumn) {
		t.Errorf("non-station column: %v", err)
	}

	mean, longest, err := DayDurationByUserType(table)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := mean.At("Tue", "Subscriber"); v != 300 {
		t.Errorf("mean Tue/Subscriber = %v", v)
	}
	if v, _ := longest.At("Mon", "Customer"); v != 120 {
		t.Errorf("max Mon/Customer = %v", v)
	}

	hd, err := HourDayDuration(table)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := hd.At("23", "Sun"); v != 1 {
		t.Errorf("hour/day duration 23/Sun = %v", v)
	}
}

func TestUserTypeShares(t *testing.T) {
	table := loadDerived(t)
	shares, err := UserTypeShares(table)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(shares.Total()-100) > 1e-9 {
		t.Errorf("shares sum to %v", shares.Total())
	}
	p, err := UserTypeShare(table, "Customer")
	if err != nil || math.Abs(p-100.0/3) > 1e-9 {
		t.Errorf("customer share = %v, %v", p, err)
	}
}

func TestProfile(t *testing.T) {
	path := writeTrips(t, header, threeTrips[0], threeTrips[1], threeTrips[1])
	table, err := Load(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	p, err := Profile(table, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p.Rows != 3 || len(p.Columns) != 14 || p.Head.Nrow() != 2 {
		t.Errorf("profile shape = %d rows, %d cols, head %d", p.Rows, len(p.Columns), p.Head.Nrow())
	}
	if p.Duplicates != 1 {
		t.Errorf("duplicates = %d", p.Duplicates)
	}
	if p.Nulls[ColEndStationID] != 2 || p.Nulls[ColUserType] != 0 {
		t.Errorf("nulls = %v", p.Nulls)
	}
	if p.UserTypes.Value("Subscriber") != 2 {
		t.Errorf("user types = %v %v", p.UserTypes.Labels, p.UserTypes.Values)
	}

	if err := table.Normalize(); err != nil {
		t.Fatal(err)
	}
	desc, err := Describe(table)
	if err != nil {
		t.Fatal(err)
	}
	if desc.Nrow() != 8 || desc.Col(ColDurationSec).Err != nil {
		t.Errorf("describe = %v", desc)
	}
}

func TestAnalyze(t *testing.T) {
	dir := t.TempDir()
	logger, err := storage.NewLogger(filepath.Join(dir, "logs", "test.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	opts := Options{HeadRows: 5, HistogramBinSec: 60, HistogramMaxSec: 3600}
	a, err := Analyze(writeTrips(t, header, threeTrips...), opts, logger)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(a.Heatmaps) != 2 || a.Heatmaps[0].Name != "heatmap_Customer" {
		t.Errorf("heatmaps = %d", len(a.Heatmaps))
	}
	if len(a.Findings) != 2 {
		t.Fatalf("findings = %+v", a.Findings)
	}
	sub := a.Findings[1]
	if sub.UserType != "Subscriber" || sub.Trips != 2 || sub.WeekendShare != 50 || sub.MeanMinutes != 3 {
		t.Errorf("subscriber finding = %+v", sub)
	}
	if lines := a.Summary(); len(lines) != 3 || !strings.Contains(lines[1], "Customer") {
		t.Errorf("summary = %v", lines)
	}

	if _, err := Analyze(filepath.Join(dir, "missing.csv"), opts, logger); !errors.Is(err, ErrIO) {
		t.Errorf("missing input: %v", err)
	}
	logged, _ := os.ReadFile(filepath.Join(dir, "logs", "test.log"))
	if !strings.Contains(string(logged), "ERROR") {
		t.Errorf("failure not logged:\n%s", logged)
	}
}

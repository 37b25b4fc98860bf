package health

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	return NewMonitor(cfg, zerolog.Nop(), nil)
}

// snapshotForScore builds a snapshot that scores exactly `want` under equal
// weights and a 1000ms latency budget.
//
//	score = (latency + error + saturation subscores) / 3 * 100
func snapshotForScore(want float64) models.MetricSnapshot {
	if want >= 100.0/3.0 {
		// latency 0 fixes the first subscore at 1; solve error=saturation.
		x := 1 - (3*want/100-1)/2
		return models.MetricSnapshot{ErrorRate: x, Saturation: x, ReportedAt: time.Now()}
	}
	// Saturate latency so the first subscore is 0.
	x := 1 - 3*want/200
	return models.MetricSnapshot{LatencyMillis: 1000, ErrorRate: x, Saturation: x, ReportedAt: time.Now()}
}

func TestScore_KnownSnapshots(t *testing.T) {
	m := newTestMonitor(t, Config{})

	tests := []struct {
		name string
		want float64
	}{
		{"97", 97},
		{"82", 82},
		{"55", 55},
		{"30", 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Score(snapshotForScore(tt.want))
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_PerfectSnapshot(t *testing.T) {
	m := newTestMonitor(t, Config{})
	if got := m.Score(models.MetricSnapshot{}); got != 100 {
		t.Errorf("Score(zero snapshot) = %v, want 100", got)
	}
}

// Score sequence [97, 82, 55, 30] must walk the status sequence
// healthy, degraded, critical, failed and emit exactly 3 issues, one per
// transition.
func TestSample_TransitionSequence(t *testing.T) {
	m := newTestMonitor(t, Config{GracePeriod: time.Hour})
	m.RegisterComponent("auth")

	wantStatuses := []models.HealthStatus{
		models.HealthHealthy,
		models.HealthDegraded,
		models.HealthCritical,
		models.HealthFailed,
	}
	scores := []float64{97, 82, 55, 30}

	for i, s := range scores {
		m.ReportMetrics("auth", snapshotForScore(s))
		m.Sample()

		rec, ok := m.Record("auth")
		if !ok {
			t.Fatal("Record(auth) not found")
		}
		if rec.Status != wantStatuses[i] {
			t.Errorf("step %d: status = %v, want %v", i, rec.Status, wantStatuses[i])
		}
	}

	var issues []models.HealthIssue
	for {
		select {
		case is := <-m.Issues():
			issues = append(issues, is)
			continue
		default:
		}
		break
	}

	if len(issues) != 3 {
		t.Fatalf("emitted %d issues, want exactly 3 (one per transition)", len(issues))
	}
	wantSeverities := []models.HealthStatus{models.HealthDegraded, models.HealthCritical, models.HealthFailed}
	for i, is := range issues {
		if is.Severity != wantSeverities[i] {
			t.Errorf("issue %d severity = %v, want %v", i, is.Severity, wantSeverities[i])
		}
		if is.ComponentID != "auth" {
			t.Errorf("issue %d component = %q, want auth", i, is.ComponentID)
		}
	}
}

// Repeated samples in the same band must not emit duplicate issues.
func TestSample_NoIssuePerSample(t *testing.T) {
	m := newTestMonitor(t, Config{GracePeriod: time.Hour})
	m.ReportMetrics("db", snapshotForScore(82))

	for i := 0; i < 5; i++ {
		m.Sample()
	}

	count := 0
	for {
		select {
		case <-m.Issues():
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Errorf("emitted %d issues over 5 samples in one band, want 1", count)
	}
}

func TestSample_RecoveryEmitsNoIssue(t *testing.T) {
	m := newTestMonitor(t, Config{GracePeriod: time.Hour})
	m.ReportMetrics("cache", snapshotForScore(82))
	m.Sample()
	<-m.Issues() // degraded issue

	m.ReportMetrics("cache", snapshotForScore(100))
	m.Sample()

	rec, _ := m.Record("cache")
	if rec.Status != models.HealthHealthy {
		t.Errorf("status = %v, want healthy", rec.Status)
	}
	select {
	case is := <-m.Issues():
		t.Errorf("recovery emitted issue %+v, want none", is)
	default:
	}
}

// Silence past the grace period is treated as a critical signal.
func TestSample_GracePeriodExpiry(t *testing.T) {
	m := newTestMonitor(t, Config{GracePeriod: 10 * time.Millisecond})
	m.ReportMetrics("billing", models.MetricSnapshot{ReportedAt: time.Now().Add(-time.Minute)})

	m.Sample()

	rec, _ := m.Record("billing")
	if rec.Status != models.HealthCritical {
		t.Errorf("status after silent grace period = %v, want critical", rec.Status)
	}

	select {
	case is := <-m.Issues():
		if is.Severity != models.HealthCritical {
			t.Errorf("issue severity = %v, want critical", is.Severity)
		}
	default:
		t.Error("no issue emitted for silent component")
	}
}

func TestRescore(t *testing.T) {
	m := newTestMonitor(t, Config{GracePeriod: time.Hour})
	m.ReportMetrics("svc", snapshotForScore(55))
	m.Sample()

	// Component recovers and reports clean metrics; rescore sees it
	// immediately without waiting for a sampling tick.
	m.ReportMetrics("svc", models.MetricSnapshot{})
	score, status, ok := m.Rescore("svc")
	if !ok {
		t.Fatal("Rescore() ok = false")
	}
	if score != 100 || status != models.HealthHealthy {
		t.Errorf("Rescore() = (%v, %v), want (100, healthy)", score, status)
	}

	if _, _, ok := m.Rescore("ghost"); ok {
		t.Error("Rescore(ghost) ok = true, want false")
	}
}

func TestStartStop(t *testing.T) {
	m := newTestMonitor(t, Config{SampleInterval: 5 * time.Millisecond, GracePeriod: time.Hour})
	m.ReportMetrics("svc", snapshotForScore(55))

	m.Start(context.Background())
	defer m.Stop()

	select {
	case is := <-m.Issues():
		if is.ComponentID != "svc" {
			t.Errorf("issue component = %q, want svc", is.ComponentID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sampling worker never emitted the expected issue")
	}

	m.Stop()
	// Stop twice is safe.
	m.Stop()
}

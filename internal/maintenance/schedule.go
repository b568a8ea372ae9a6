package maintenance

import (
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// Config controls the maintenance schedule.
type Config struct {
	SweepInterval     time.Duration
	SessionStaleAfter time.Duration
	NoticeDays        int
}

// Stores bundles the repositories the workers read and write.
type Stores struct {
	Licenses interface {
		LicenseExpirer
		ExpiringLister
	}
	Sessions SessionSweeper
	Notices  NoticeWriter
}

// AddWorkers registers every maintenance worker.
func AddWorkers(workers *river.Workers, s Stores, c Config, log *slog.Logger) {
	river.AddWorker(workers, NewExpireLicensesWorker(s.Licenses, log))
	river.AddWorker(workers, NewMarkStaleSessionsWorker(s.Sessions, c.SessionStaleAfter, log))
	river.AddWorker(workers, NewExpiryNoticesWorker(s.Licenses, s.Notices, c.NoticeDays, log))
}

// PeriodicJobs schedules the sweeps. Expiry and stale-session sweeps run every
// SweepInterval; notices are checked hourly.
func PeriodicJobs(c Config) []*river.PeriodicJob {
	every := func(d time.Duration, args river.JobArgs) *river.PeriodicJob {
		return river.NewPeriodicJob(
			river.PeriodicInterval(d),
			func() (river.JobArgs, *river.InsertOpts) {
				return args, &river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: d}}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		)
	}
	return []*river.PeriodicJob{
		every(c.SweepInterval, ExpireLicensesArgs{}),
		every(c.SweepInterval, MarkStaleSessionsArgs{}),
		every(time.Hour, ExpiryNoticesArgs{}),
	}
}

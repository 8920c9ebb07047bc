package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/codetesla51/entitylimit/clock"
	"github.com/codetesla51/entitylimit/internal/observability"
	"github.com/codetesla51/entitylimit/limiter"
)

var demoRealClock bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the two-user demo scenario",
	Long: `Register user1 (5 requests per 5s) and user2 (3 requests per 5s), send one
request per user every second for six seconds, wait five seconds, then send
three more requests for user1.

By default time is simulated; pass --real to sleep on the wall clock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := observability.NewCLILogger(verbose)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		var (
			clk   clock.Clock
			sleep func(time.Duration)
		)
		if demoRealClock {
			clk = clock.Real()
			sleep = time.Sleep
		} else {
			mock := clock.NewMock(time.Now())
			clk = mock
			sleep = func(d time.Duration) { mock.Advance(d) }
		}

		l := limiter.New(limiter.WithClock(clk), limiter.WithLogger(logger), limiter.WithName("demo"))
		return runDemo(cmd.OutOrStdout(), l, sleep)
	},
}

func init() {
	demoCmd.Flags().BoolVar(&demoRealClock, "real", false, "use the wall clock and really sleep")
}

func runDemo(out io.Writer, l *limiter.Limiter, sleep func(time.Duration)) error {
	if err := l.Register("user1", 5, 5*time.Second); err != nil {
		return err
	}
	if err := l.Register("user2", 3, 5*time.Second); err != nil {
		return err
	}

	start := l.Now()
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"T", "Entity", "Request", "Outcome", "Remaining"})

	request := func(id string, n int) {
		now := l.Now()
		res := l.Check(id, now)
		t.AppendRow(table.Row{
			fmt.Sprintf("+%.1fs", now.Sub(start).Seconds()),
			id, n, res.Outcome.String(), res.Remaining,
		})
	}

	for i := 1; i <= 6; i++ {
		request("user1", i)
		request("user2", i)
		sleep(time.Second)
	}
	t.AppendSeparator()

	sleep(5 * time.Second)
	for i := 1; i <= 3; i++ {
		request("user1", i)
	}

	t.Render()
	return nil
}

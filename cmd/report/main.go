// Command report renders an offline HTML report for a recorded counting run.
//
// With no -run flag it reports the most recent run in the database. The
// rendered chart plus a plain-text summary of the run's totals and traffic
// level go to stdout and the output file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/crosswatch-data/crossing.report/internal/db"
	"github.com/crosswatch-data/crossing.report/internal/monitoring"
	"github.com/crosswatch-data/crossing.report/internal/report"
	"github.com/crosswatch-data/crossing.report/internal/units"
)

var (
	dbFile = flag.String("db", "crossings.db", "Path to the sqlite database")
	runID  = flag.String("run", "", "Run to report on (defaults to the most recent)")
	out    = flag.String("out", "report.html", "Output HTML file")
	list   = flag.Bool("list", false, "List recorded runs and exit")
)

func main() {
	flag.Parse()
	monitoring.SetLogger(nil)

	database, err := db.OpenDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if *list {
		listRuns(database)
		return
	}

	id := *runID
	if id == "" {
		runs, err := database.ListRuns(1)
		if err != nil {
			log.Fatalf("failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			log.Fatal("no runs recorded")
		}
		id = runs[0].RunID
	}

	r, err := report.Build(database, id)
	if err != nil {
		log.Fatalf("failed to build report: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *out, err)
	}
	defer f.Close()
	if err := r.RenderHTML(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}

	printSummary(r)
	fmt.Printf("\nchart written to %s\n", *out)
}

func listRuns(database *db.DB) {
	runs, err := database.ListRuns(0)
	if err != nil {
		log.Fatalf("failed to list runs: %v", err)
	}
	for _, run := range runs {
		finished := "running"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s  %-24s enter=%-5d exit=%-5d %s\n",
			run.RunID, run.Source, run.EnterCount, run.ExitCount, finished)
	}
}

func printSummary(r *report.RunReport) {
	run := r.Run
	level := units.LevelFor(run.PerMinute)

	fmt.Printf("run      %s\n", run.RunID)
	fmt.Printf("source   %s\n", run.Source)
	fmt.Printf("enter    %d\n", run.EnterCount)
	fmt.Printf("exit     %d\n", run.ExitCount)
	fmt.Printf("total    %d\n", run.EnterCount+run.ExitCount)
	fmt.Printf("frames   %d (rejected %d)\n", run.Frames, run.Rejected)
	fmt.Printf("rate     %.1f vehicles/min (%s traffic)\n", run.PerMinute, level)
	if r.HeadwayP50 > 0 {
		fmt.Printf("headway  p50=%.0f p85=%.0f p95=%.0f frames\n",
			r.HeadwayP50, r.HeadwayP85, r.HeadwayP95)
	}
}

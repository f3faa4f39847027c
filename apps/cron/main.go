package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/content"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/storage/database"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

// The cron app runs the background jobs of the review pipeline. For now that
// is a single job: returning abandoned claims to the pending queue.
func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "CRON : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() { _ = db.Close() }()
	if err = db.Ping(); err != nil {
		logger.Fatal(fmt.Sprintf("pinging database: %v", err), err)
	}

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf)
	contentSvc := content.NewService(sqlxrepos.NewSubmissionRepository(db), usrSvc, mailSvc, logger, conf)

	core.ParseEmailTemplates(conf, logger)

	c := cron.New()
	err = c.AddFunc(conf.Review.ReclaimSchedule, func() {
		reclaimed, err := contentSvc.ReclaimStale(context.Background())
		if err != nil {
			logger.Error(fmt.Sprintf("reclaiming stale claims: %v", err), err)
			return
		}
		if reclaimed > 0 {
			logger.Info(fmt.Sprintf("returned %d stale claim(s) to the pending queue", reclaimed))
		}
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("scheduling reclaim job: %v", err), err)
	}

	logger.Info(fmt.Sprintf("reclaim job scheduled: %q (claim timeout %v)", conf.Review.ReclaimSchedule, conf.Review.ClaimTimeout))
	c.Start()
	defer c.Stop()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info(fmt.Sprintf("%v: stopping cron...", sig))
}

package main

import (
	"context"
	"log"
	"time"

	"sokoBack/internal/services"
)

const reminderSweepTimeout = 1 * time.Minute

func startReminderSweeper(ctx context.Context, svc *services.SubscriptionService, interval time.Duration, infoLog, errorLog *log.Logger) {
	if svc == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runOnce := func() {
			runCtx, cancel := context.WithTimeout(ctx, reminderSweepTimeout)
			sent, err := svc.CheckAndSendReminders(runCtx)
			cancel()
			if err != nil {
				if errorLog != nil {
					errorLog.Printf("reminder sweeper: sweep failed: %v", err)
				}
			} else if sent > 0 && infoLog != nil {
				infoLog.Printf("reminder sweeper: sent %d renewal reminders", sent)
			}
		}

		runOnce()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}

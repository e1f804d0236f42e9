package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/store"
)

// Demo account created by Seed.
const (
	DemoUsername = "testuser"
	DemoPassword = "test123"
)

// Seed creates the demo account with sample tasks unless it already exists.
func Seed(ctx context.Context, st store.Store, logger *zerolog.Logger) error {
	if _, err := st.GetUserByUsername(ctx, DemoUsername); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up demo user: %w", err)
	}

	hash, err := auth.HashPassword(DemoPassword)
	if err != nil {
		return err
	}
	user, err := st.CreateUser(ctx, DemoUsername, hash)
	if err != nil {
		return fmt.Errorf("create demo user: %w", err)
	}

	now := time.Now().UTC()
	inMonth := now.AddDate(0, 1, 0)
	lastWeek := now.AddDate(0, 0, -7)

	samples := []struct {
		title     string
		due       *time.Time
		completed bool
	}{
		{title: "Пример задачи 1", due: &inMonth},
		{title: "Пример задачи 2 (выполнена)", completed: true},
		{title: "Просроченная задача", due: &lastWeek},
	}

	for _, s := range samples {
		task, err := st.CreateTask(ctx, user.ID, s.title, s.due)
		if err != nil {
			return fmt.Errorf("create demo task: %w", err)
		}
		if s.completed {
			done := true
			if _, err := st.UpdateTask(ctx, task.ID, store.TaskUpdate{Completed: &done}); err != nil {
				return fmt.Errorf("complete demo task: %w", err)
			}
		}
	}

	logger.Info().Str("username", DemoUsername).Int("tasks", len(samples)).Msg("demo data seeded")
	return nil
}

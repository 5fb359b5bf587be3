package sink

import (
	"context"
	"fmt"
	"os"

	"crowdcount/internal/config"
	"crowdcount/internal/database"
)

// New creates the sink selected by cfg.Sink.Type
func New(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch cfg.Sink.Type {
	case "firestore":
		return NewFirestoreSink(ctx, cfg.Sink.ProjectID, cfg.Sink.Collection, cfg.CredentialsPath())
	case "sqlite":
		db, err := database.New(cfg.Sink.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		s := NewSQLiteSink(db, cfg.Sink.Retention)
		s.ownsDB = true
		return s, nil
	case "log":
		return NewLogSink(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
}

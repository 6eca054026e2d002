// Package app assembles the client components in dependency order:
// config, logging, durable store, cache, read tracking, then the session.
// All wiring is explicit; nothing reaches for globals.
package app

import (
	"log/slog"

	"classboard/internal/cache"
	"classboard/internal/config"
	"classboard/internal/logger"
	"classboard/internal/notify"
	"classboard/internal/permission"
	"classboard/internal/roster"
	"classboard/internal/schedule"
	"classboard/internal/session"
	"classboard/internal/storage"
)

// Client is one fully wired client instance. Exactly one of Student or
// Teacher is set, matching the role it was built for.
type Client struct {
	Config  *config.Config
	Log     *slog.Logger
	Store   *storage.Store
	Sched   *schedule.Scheduler
	Cache   *cache.MessageCache
	Reads   *cache.ReadTracker
	Gate    *permission.Gate
	Student *session.Student
	Teacher *session.Teacher
	Roster  *roster.Roster
	SentLog *session.SentLog
}

// NewStudentClient wires a student client over its durable store.
func NewStudentClient(cfg *config.Config, notifier notify.Notifier) (*Client, error) {
	c, err := newClient(cfg, notifier, storage.DocMessages)
	if err != nil {
		return nil, err
	}
	c.Student = session.NewStudent(cfg, c.Store, c.Cache, c.Reads, c.Gate, notifier, c.Log)
	return c, nil
}

// NewTeacherClient wires a teacher client, including the roster and the
// sent-message log.
func NewTeacherClient(cfg *config.Config, notifier notify.Notifier) (*Client, error) {
	c, err := newClient(cfg, notifier, storage.DocTeacherInbox)
	if err != nil {
		return nil, err
	}
	sentLog, err := session.NewSentLog(c.Store, storage.DocSentMessages, cfg.Cache.SentLogLimit)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Roster = roster.NewRoster()
	c.SentLog = sentLog
	c.Teacher = session.NewTeacher(cfg, c.Store, c.Cache, c.Reads, c.Roster, sentLog, c.Gate, notifier, c.Log)
	return c, nil
}

func newClient(cfg *config.Config, notifier notify.Notifier, cacheDoc string) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Init(cfg.Debug)
	if notifier == nil {
		notifier = &notify.LogNotifier{Log: log}
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	msgCache, err := cache.NewMessageCache(store, cacheDoc, cfg.Cache.HistoryPolicy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sched := schedule.NewScheduler()
	reads := cache.NewReadTracker(msgCache, sched, notifier, cfg.Read.AutoReadDelay, cfg.Read.ForegroundDebounce)

	return &Client{
		Config: cfg,
		Log:    log,
		Store:  store,
		Sched:  sched,
		Cache:  msgCache,
		Reads:  reads,
		Gate:   permission.NewGate(),
	}, nil
}

// Close disconnects the session and releases the scheduler and store.
func (c *Client) Close() error {
	if c.Student != nil {
		c.Student.Disconnect()
	}
	if c.Teacher != nil {
		c.Teacher.Disconnect()
	}
	if c.Sched != nil {
		c.Sched.Stop()
	}
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}

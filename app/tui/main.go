package main

import (
	"context"
	"log"
	"os"
	"path"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/noelzubin/notes_vault/notes"
	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/search/index"
	"github.com/noelzubin/notes_vault/search/worker"
	"github.com/noelzubin/notes_vault/secure"
	"github.com/noelzubin/notes_vault/storage"
	"github.com/noelzubin/notes_vault/utils"
)

func main() {
	// read application config
	config := utils.NewConfig()

	if err := os.MkdirAll(config.DataDir, 0o700); err != nil {
		log.Fatal(err)
	}

	// Setup logging. The terminal belongs to the UI, so logs always go to a file.
	logFile := config.LogFile
	if logFile == "" {
		logFile = path.Join(config.DataDir, "notes_vault.log")
	}
	closer, err := utils.InitLogging(utils.LogOptions{Level: config.LogLevel, File: logFile})
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()
	logger := utils.Logger("main")

	keys, err := secure.LoadOrCreateUserKeys(path.Join(config.DataDir, "keys.json"))
	if err != nil {
		log.Fatal(err)
	}

	store, err := storage.Open(storage.Config{Backend: config.Backend, Dir: config.DataDir})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	host := worker.NewHost(store, index.Options{
		SaveWait:    config.SaveWait,
		SaveMaxWait: config.SaveMaxWait,
		RecentLimit: config.RecentLimit,
	}, utils.Logger("worker"))

	ctx := context.Background()
	indexes := map[search.Kind]notes.Index{}
	for _, kind := range []search.Kind{search.KindDocument, search.KindMail} {
		remote, terminate, err := host.CreateIndex(ctx, kind, config.UserID, keys)
		if err != nil {
			log.Fatal(err)
		}
		defer terminate()
		indexes[kind] = remote
	}

	// create the indexer.
	vault := notes.NewVault(notes.Options{
		RootPath:       config.RootPath,
		Extensions:     config.Extensions,
		MailExtensions: config.MailExtensions,
		Logger:         utils.Logger("notes"),
	}, indexes)

	// Create a new bubbletea Model
	m := New(vault, config)
	p := tea.NewProgram(m)
	_, runErr := p.Run()

	flushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := vault.Flush(flushCtx); err != nil {
		logger.Error("flush search indexes", "error", err)
	}
	if err := host.Close(); err != nil {
		logger.Error("close search workers", "error", err)
	}

	if runErr != nil {
		logger.Error("tui", "error", runErr)
		log.Fatal(runErr)
	}
}

// milonctl is a headless maintenance tool for the lexicon database: it runs
// the same database service the browser uses, against a file-backed cache and
// the disk sync server, for bulk import, export, and inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/milonlab/milon/internal/config"
	"github.com/milonlab/milon/internal/store"
	"github.com/milonlab/milon/pkg/cache"
	"github.com/milonlab/milon/pkg/lexicon"
	"github.com/milonlab/milon/pkg/syncclient"
)

func newService(ctx context.Context) (*lexicon.Service, error) {
	_ = godotenv.Load()
	cfg := config.Load()

	var server lexicon.Syncer
	if cfg.SyncServerURL != "" {
		server = syncclient.New(cfg.SyncServerURL, cfg.HTTPTimeout)
	}
	svc := lexicon.New(lexicon.Config{
		Cache:        cache.New(afero.NewOsFs(), cfg.CachePath),
		Server:       server,
		PrebuiltURLs: cfg.PrebuiltURLs,
		LookupURL:    cfg.LookupURL,
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
	})
	if err := svc.Init(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

type cmdImport struct {
	File string `long:"file" description:"Entries JSON file to import. Use - for stdin."`
}

func (cmd *cmdImport) Execute([]string) error {
	var in io.ReadCloser = os.Stdin
	if cmd.File != "-" && cmd.File != "" {
		f, err := os.Open(cmd.File)
		if err != nil {
			return err
		}
		in = f
	}
	defer in.Close()

	var entries []*store.Entry
	if err := json.NewDecoder(in).Decode(&entries); err != nil {
		return fmt.Errorf("decode entries: %w", err)
	}

	ctx := context.Background()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.AddEntries(ctx, entries); err != nil {
		return err
	}
	log.WithField("count", len(entries)).Info("entries imported")
	return nil
}

type cmdExport struct {
	Out string `long:"out" default:"lexicon.sqlite" description:"Path for the exported database image."`
}

func (cmd *cmdExport) Execute([]string) error {
	svc, err := newService(context.Background())
	if err != nil {
		return err
	}
	blob, err := svc.ExportImage()
	if err != nil {
		return err
	}
	if err := os.WriteFile(cmd.Out, blob, 0o644); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"path":  cmd.Out,
		"bytes": len(blob),
	}).Info("database image exported")
	return nil
}

type cmdList struct {
	Letter string `long:"letter" description:"(Optional) Only entries whose headword begins with this letter."`
}

func (cmd *cmdList) Execute([]string) error {
	svc, err := newService(context.Background())
	if err != nil {
		return err
	}

	var entries []*store.Entry
	if cmd.Letter != "" {
		entries, err = svc.EntriesByLetter(cmd.Letter)
	} else {
		entries, err = svc.AllEntries()
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

type cmdDelete struct {
	IDs []string `long:"id" description:"Entry id to delete. May be repeated."`
}

func (cmd *cmdDelete) Execute([]string) error {
	ctx := context.Background()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.DeleteEntries(ctx, cmd.IDs); err != nil {
		return err
	}
	log.WithField("count", len(cmd.IDs)).Info("entries deleted")
	return nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	parser := flags.NewParser(nil, flags.Default)

	mustAdd := func(name, short, long string, cmd interface{}) {
		if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
			log.WithError(err).Fatalf("failed to add %s command", name)
		}
	}
	mustAdd("import", "Import entries",
		"Import a JSON array of entries into the lexicon database", &cmdImport{})
	mustAdd("export", "Export the database image",
		"Write the current serialized database image to a file", &cmdExport{})
	mustAdd("list", "List entries",
		"Print entries as JSON, newest first or filtered by letter", &cmdList{})
	mustAdd("delete", "Delete entries",
		"Delete entries by id", &cmdDelete{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}

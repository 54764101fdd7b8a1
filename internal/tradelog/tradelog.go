// Package tradelog appends signal and trade records to daily JSON-lines
// files and compresses old files for retention.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rhbachi/bybit-bot/internal/types"
)

var mu sync.Mutex

func logDir() string {
	if v := os.Getenv("BOT_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func tradesFilepath(t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), "trades", d+".jsonl")
}

func signalsFilepath(t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), "signals", d+".jsonl")
}

func appendLine(path string, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// AppendTrade writes one closed-trade record to the current day's file.
func AppendTrade(rec types.TradeRecord) error {
	return appendLine(tradesFilepath(time.Now()), rec)
}

// AppendSignal writes one evaluated signal to the current day's file. Signals
// are recorded whether or not they were executed; Skipped carries the reason
// when they were not.
func AppendSignal(rec types.SignalRecord) error {
	return appendLine(signalsFilepath(time.Now()), rec)
}

// CompressOlder gzips log files older than retentionDays and removes the
// originals. Files already compressed are left alone. A file that fails to
// compress does not stop the sweep; the first failure is reported.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var firstErr error
	walkErr := filepath.WalkDir(logDir(), func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".jsonl" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		var cerr error
		if _, e2 := os.Stat(gz); e2 == nil {
			cerr = os.Remove(p)
		} else {
			cerr = compressFile(p, gz)
		}
		if cerr != nil && firstErr == nil {
			firstErr = cerr
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	return firstErr
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		return fmt.Errorf("compress %s: %w", src, err)
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("compress %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return os.Remove(src)
}

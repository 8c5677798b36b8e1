package printerfs

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

// Config holds the parameters needed to reach the printer's file store.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Retriever downloads a remote file in full.
type Retriever interface {
	Retrieve(ctx context.Context, path string) ([]byte, error)
}

// FTPS retrieves files over implicit FTP-over-TLS.
type FTPS struct {
	cfg Config
}

// NewFTPS creates an implicit-TLS FTP retriever.
func NewFTPS(cfg Config) *FTPS {
	if cfg.Port == 0 {
		cfg.Port = 990
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &FTPS{cfg: cfg}
}

// Retrieve opens a session, downloads path and closes the session.
func (f *FTPS) Retrieve(ctx context.Context, path string) ([]byte, error) {
	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.cfg.Timeout),
		ftp.DialWithTLS(&tls.Config{
			ServerName:         f.cfg.Host,
			InsecureSkipVerify: f.cfg.InsecureSkipVerify,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ftps dial %s: %w", addr, err)
	}
	defer conn.Quit()

	if err := conn.Login(f.cfg.Username, f.cfg.Password); err != nil {
		return nil, fmt.Errorf("ftps login: %w", err)
	}
	resp, err := conn.Retr(path)
	if err != nil {
		return nil, fmt.Errorf("ftps retr %s: %w", path, err)
	}
	defer resp.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp); err != nil {
		return nil, fmt.Errorf("ftps read %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// Fetcher serves job thumbnails and weights from 3MF archives. The last
// archive downloaded is kept so the thumbnail and weight of one job cost a
// single transfer.
type Fetcher struct {
	r Retriever

	mu       sync.Mutex
	lastPath string
	last     *Archive
}

// NewFetcher creates a fetcher over r.
func NewFetcher(r Retriever) *Fetcher {
	return &Fetcher{r: r}
}

func (f *Fetcher) archive(ctx context.Context, path string) (*Archive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last != nil && f.lastPath == path {
		return f.last, nil
	}
	data, err := f.r.Retrieve(ctx, path)
	if err != nil {
		return nil, err
	}
	a, err := OpenArchive(data)
	if err != nil {
		return nil, err
	}
	log.Printf("printerfs: downloaded %s (%d bytes)", path, len(data))
	f.lastPath, f.last = path, a
	return a, nil
}

// Thumbnail returns the job preview image stored in the archive at path.
func (f *Fetcher) Thumbnail(ctx context.Context, path string) ([]byte, error) {
	a, err := f.archive(ctx, path)
	if err != nil {
		return nil, err
	}
	return a.Thumbnail()
}

// JobWeight returns the filament weight in grams of the archive at path.
func (f *Fetcher) JobWeight(ctx context.Context, path string) (float64, error) {
	a, err := f.archive(ctx, path)
	if err != nil {
		return 0, err
	}
	return a.Weight()
}

// Forget drops the cached archive.
func (f *Fetcher) Forget() {
	f.mu.Lock()
	f.lastPath, f.last = "", nil
	f.mu.Unlock()
}

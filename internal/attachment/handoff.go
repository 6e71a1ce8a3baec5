package attachment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/pkg/log"
	"github.com/NizariMohamed/chatting/pkg/storage"
)

const (
	PrefixAttachments = "attachments"
	PrefixAvatars     = "avatars"

	defaultMaxSize = 25 << 20
	sniffLen       = 512
)

// ErrTooLarge marks payloads above the configured size limit. Errors
// carrying it also match domain.ErrValidation.
var ErrTooLarge = errors.New("payload exceeds size limit")

// DefaultAllowed lists the accepted media families for message attachments.
var DefaultAllowed = []string{
	"image/*",
	"audio/*",
	"video/*",
	"application/pdf",
	"application/octet-stream",
	"text/plain",
}

// Options configures a Handoff.
type Options struct {
	Prefix    string
	MaxSize   int64
	Allowed   []string
	URLExpiry time.Duration
}

// Handoff stores opaque payloads in blob storage and hands back references.
type Handoff struct {
	store storage.Storage
	opts  Options
	now   func() time.Time
}

// New creates a Handoff writing under opts.Prefix.
func New(store storage.Storage, opts Options) *Handoff {
	if opts.Prefix == "" {
		opts.Prefix = PrefixAttachments
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = defaultMaxSize
	}
	if len(opts.Allowed) == 0 {
		opts.Allowed = DefaultAllowed
	}
	if opts.URLExpiry <= 0 {
		opts.URLExpiry = 15 * time.Minute
	}
	return &Handoff{store: store, opts: opts, now: time.Now}
}

// Prefix returns the key namespace of this handoff.
func (h *Handoff) Prefix() string {
	return h.opts.Prefix
}

// MaxSize returns the configured payload limit in bytes.
func (h *Handoff) MaxSize() int64 {
	return h.opts.MaxSize
}

// Store writes the payload and returns its reference. size may be -1 when
// unknown; the limit is then enforced while streaming.
func (h *Handoff) Store(ctx context.Context, r io.Reader, size int64, mimeHint, originalName string) (string, error) {
	if size > h.opts.MaxSize {
		return "", fmt.Errorf("%w: %w: %d > %d bytes", domain.ErrValidation, ErrTooLarge, size, h.opts.MaxSize)
	}
	if size == 0 {
		return "", domain.NewValidationError("file", "is empty")
	}

	br := bufio.NewReaderSize(r, sniffLen)
	contentType := h.contentType(br, mimeHint)
	if !h.allowed(contentType) {
		return "", domain.NewValidationError("file", "unsupported media type "+contentType)
	}

	key, err := newKey(h.opts.Prefix, h.now(), extensionFor(originalName, contentType))
	if err != nil {
		return "", err
	}

	lr := &limitedReader{r: br, remaining: h.opts.MaxSize}
	if err := h.store.Write(ctx, key, lr, size, contentType); err != nil {
		if lr.exceeded {
			h.cleanup(ctx, key)
			return "", fmt.Errorf("%w: %w: limit %d bytes", domain.ErrValidation, ErrTooLarge, h.opts.MaxSize)
		}
		return "", fmt.Errorf("failed to store payload: %w", err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str("key", key).Str("content_type", contentType).Int64("size", size).Msg("payload stored")
	return key, nil
}

// Open streams the payload behind ref.
func (h *Handoff) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ValidateRef(h.opts.Prefix, ref); err != nil {
		return nil, err
	}
	return h.store.Read(ctx, ref)
}

// URL returns a time-limited direct URL, or storage.ErrURLUnsupported when
// the payload must be streamed through Open.
func (h *Handoff) URL(ctx context.Context, ref string) (string, error) {
	if err := ValidateRef(h.opts.Prefix, ref); err != nil {
		return "", err
	}
	return h.store.GetURL(ctx, ref, h.opts.URLExpiry)
}

// Delete removes the payload behind ref. Missing payloads are not an error.
func (h *Handoff) Delete(ctx context.Context, ref string) error {
	if err := ValidateRef(h.opts.Prefix, ref); err != nil {
		return err
	}
	return h.store.Delete(ctx, ref)
}

// Owns reports whether ref is a well-formed key in this handoff's namespace.
func (h *Handoff) Owns(ref string) bool {
	return ValidateRef(h.opts.Prefix, ref) == nil
}

func (h *Handoff) contentType(br *bufio.Reader, hint string) string {
	if mt, _, err := mime.ParseMediaType(hint); err == nil && mt != "application/octet-stream" {
		return mt
	}
	head, _ := br.Peek(sniffLen)
	if len(head) == 0 {
		return "application/octet-stream"
	}
	mt, _, err := mime.ParseMediaType(http.DetectContentType(head))
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

func (h *Handoff) allowed(contentType string) bool {
	for _, a := range h.opts.Allowed {
		if family, ok := strings.CutSuffix(a, "/*"); ok {
			if strings.HasPrefix(contentType, family+"/") {
				return true
			}
			continue
		}
		if a == contentType {
			return true
		}
	}
	return false
}

func (h *Handoff) cleanup(ctx context.Context, key string) {
	if err := h.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("key", key).Msg("failed to remove oversized payload")
	}
}

type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		l.exceeded = true
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrTooLarge
	}
	return n, err
}

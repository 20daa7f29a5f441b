package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrInvalidKey       = errors.New("objectstore: invalid bucket or key")
	ErrInvalidSignature = errors.New("objectstore: invalid signature")
	ErrExpired          = errors.New("objectstore: signed url expired")
)

// FilesystemStore implements Store on the local disk. Objects live under
// <root>/objects/<bucket>/<key> with their attributes in a JSON sidecar under
// <root>/attrs. Signed URLs point at publicURL and carry an HMAC signature
// that Verify checks.
type FilesystemStore struct {
	root       string
	publicURL  string
	signingKey []byte
	now        func() time.Time
}

type sidecar struct {
	ContentType string            `json:"content_type"`
	ETag        string            `json:"etag"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewFilesystemStore creates the store rooted at root. An empty signingKey
// is replaced by a random one, so signed URLs then only live as long as the process.
func NewFilesystemStore(root, publicURL string, signingKey []byte) (*FilesystemStore, error) {
	const op = "objectstore.NewFilesystemStore"

	if root == "" {
		root = "data/objects"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(signingKey) == 0 {
		signingKey = make([]byte, 32)
		if _, err := rand.Read(signingKey); err != nil {
			return nil, fmt.Errorf("%s: signing key: %w", op, err)
		}
	}
	return &FilesystemStore{
		root:       root,
		publicURL:  strings.TrimRight(publicURL, "/"),
		signingKey: signingKey,
		now:        time.Now,
	}, nil
}

func (s *FilesystemStore) Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) error {
	const op = "objectstore.FilesystemStore.Put"

	objPath, attrPath, err := s.paths(bucket, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	attrs, err := json.Marshal(sidecar{
		ContentType: opts.ContentType,
		ETag:        fmt.Sprintf("%016x", xxhash.Sum64(data)),
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// Object first: a failed write must not leave attributes describing data
	// that was never stored.
	if err := writeAtomic(objPath, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := writeAtomic(attrPath, attrs); err != nil {
		// the previous sidecar no longer matches the object
		_ = os.Remove(attrPath)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *FilesystemStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	const op = "objectstore.FilesystemStore.Get"

	objPath, _, err := s.paths(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	data, err := os.ReadFile(objPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %s/%s: %w", op, bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

func (s *FilesystemStore) Head(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	const op = "objectstore.FilesystemStore.Head"

	objPath, attrPath, err := s.paths(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st, err := os.Stat(objPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %s/%s: %w", op, bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	info := &ObjectInfo{
		Size:         st.Size(),
		ContentType:  "application/octet-stream",
		LastModified: st.ModTime().UTC(),
	}
	raw, err := os.ReadFile(attrPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	default:
		var sc sidecar
		if err := json.Unmarshal(raw, &sc); err != nil {
			return nil, fmt.Errorf("%s: attrs: %w", op, err)
		}
		if sc.ContentType != "" {
			info.ContentType = sc.ContentType
		}
		info.ETag = sc.ETag
		info.Metadata = sc.Metadata
	}
	return info, nil
}

func (s *FilesystemStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	const op = "objectstore.FilesystemStore.SignedURL"

	if _, _, err := s.paths(bucket, key); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	u, err := url.Parse(s.publicURL)
	if err != nil {
		return "", fmt.Errorf("%s: parse public url: %w", op, err)
	}
	// JoinPath takes escaped elements
	u = u.JoinPath(url.PathEscape(bucket), escapeKey(key))

	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := u.Query()
	q.Set("expires", expires)
	q.Set("signature", s.sign(bucket, key, expires))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify checks a signature issued by SignedURL.
func (s *FilesystemStore) Verify(bucket, key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(bucket, key, expires))) {
		return ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}

// Locator returns fs://<bucket>/<key> with every key segment path-escaped.
func (s *FilesystemStore) Locator(bucket, key string) string {
	return "fs://" + url.PathEscape(bucket) + "/" + escapeKey(key)
}

func (s *FilesystemStore) sign(bucket, key, expires string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(bucket + "\n" + key + "\n" + expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// paths resolves the object and attribute file locations, rejecting any
// bucket or key that could escape the store root.
func (s *FilesystemStore) paths(bucket, key string) (string, string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", "", fmt.Errorf("%w: bucket %q", ErrInvalidKey, bucket)
	}
	if key == "" || strings.Contains(key, `\`) {
		return "", "", fmt.Errorf("%w: key %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", "", fmt.Errorf("%w: key %q", ErrInvalidKey, key)
		}
	}
	rel := filepath.Join(bucket, filepath.FromSlash(key))
	return filepath.Join(s.root, "objects", rel), filepath.Join(s.root, "attrs", rel+".json"), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

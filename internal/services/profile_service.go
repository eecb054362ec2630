// Package services – ProfileService
//
// ProfileService keeps the signed-in user's profile editable offline.
// Edits always land locally first; when the device is online and nothing
// is pending they are pushed straight to the remote store, otherwise they
// merge into a single pending patch (newest field wins). A chosen photo is
// copied to a durable local file and uploaded later. The sync pass pushes
// photo and patch as independent attempts: one failing does not abort the
// other, and both errors are reported together.
package services

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/tbourn/go-experiences-backend/internal/connectivity"
	"github.com/tbourn/go-experiences-backend/internal/domain"
	"github.com/tbourn/go-experiences-backend/internal/files"
	"github.com/tbourn/go-experiences-backend/internal/observability"
)

// ProfileRemote is the remote contract required by ProfileService.
type ProfileRemote interface {
	// GetUser loads the remote profile document.
	GetUser(ctx context.Context, email string) (domain.CachedProfile, error)

	// PatchUser pushes only the fields present in the patch.
	PatchUser(ctx context.Context, email string, patch domain.PendingPatch) error

	// UploadProfilePhoto streams a photo to blob storage, returns its path.
	UploadProfilePhoto(ctx context.Context, uid string, r io.Reader) (string, error)

	// SetUserPhotoURL records the uploaded path on the user document.
	SetUserPhotoURL(ctx context.Context, email, url string) error

	// DownloadProfilePhoto streams a stored photo to w.
	DownloadProfilePhoto(ctx context.Context, path string, w io.Writer) error
}

// ProfileStateStore is the local-state contract required by
// ProfileService, backed by the key-value store.
type ProfileStateStore interface {
	ReadProfile(userID string) (domain.ProfileState, error)
	WriteCachedProfile(userID string, c domain.CachedProfile) error
	MergePendingPatch(userID string, p domain.PendingPatch) error
	ClearPendingPatch(userID string) error
	SetPendingPhotoPath(userID, path string) error
	ClearPendingPhotoPath(userID string) error
}

// ProfileService orchestrates offline-first profile edits for one user.
type ProfileService struct {
	// UserID is the signed-in user's email, the document key everywhere.
	UserID string
	// Remote is the remote profile adapter.
	Remote ProfileRemote
	// Local is the durable local profile state.
	Local ProfileStateStore
	// Photos is the on-disk photo slot store.
	Photos *files.ProfileStore
	// Oracle reports connectivity.
	Oracle connectivity.Oracle
	// Log is the service logger.
	Log zerolog.Logger

	// PushTimeout bounds each remote push attempt.
	PushTimeout time.Duration
	// Retry shapes the background sync cadence.
	Retry Backoff

	mu   sync.Mutex
	kick chan struct{}
}

// NewProfileService constructs a ProfileService for one user.
func NewProfileService(userID string, remote ProfileRemote, local ProfileStateStore,
	photos *files.ProfileStore, oracle connectivity.Oracle, log zerolog.Logger,
	pushTimeout time.Duration, retry Backoff) *ProfileService {
	return &ProfileService{
		UserID:      userID,
		Remote:      remote,
		Local:       local,
		Photos:      photos,
		Oracle:      oracle,
		Log:         log,
		PushTimeout: pushTimeout,
		Retry:       retry,
		kick:        make(chan struct{}, 1),
	}
}

// State returns the durable local profile state.
func (s *ProfileService) State() (domain.ProfileState, error) {
	return s.Local.ReadProfile(s.UserID)
}

// SaveEdits applies profile edits. The local mirror updates optimistically
// in every case. Online with nothing already pending, the edit goes
// straight to the remote store; otherwise it merges into the pending patch
// and the sync task is signaled. Languages are canonicalized to BCP 47
// tags where they parse.
func (s *ProfileService) SaveEdits(ctx context.Context, name, about *string, languages *[]string) error {
	patch := domain.PendingPatch{Name: name, About: about}
	if languages != nil {
		canon := canonicalizeLanguages(*languages)
		patch.Languages = &canon
	}
	if patch.IsEmpty() {
		return nil
	}

	s.applyLocally(patch)

	state, err := s.Local.ReadProfile(s.UserID)
	if err != nil {
		return err
	}
	if s.Oracle.Online(ctx) && state.PendingPatch.IsEmpty() {
		pctx, cancel := context.WithTimeout(ctx, s.PushTimeout)
		err := s.Remote.PatchUser(pctx, s.UserID, patch)
		cancel()
		if err == nil {
			return nil
		}
		if Classify(err) == ClassLogical {
			return err
		}
		s.Log.Warn().Err(err).Msg("direct profile push failed, queuing patch")
	}

	if err := s.Local.MergePendingPatch(s.UserID, patch); err != nil {
		return err
	}
	s.SyncNow()
	return nil
}

// SetPendingPhoto copies the chosen photo to the durable pending slot and
// signals the sync task. No upload happens here.
func (s *ProfileService) SetPendingPhoto(ctx context.Context, r io.Reader) error {
	path, err := s.Photos.SavePending(r)
	if err != nil {
		return err
	}
	if err := s.Local.SetPendingPhotoPath(s.UserID, path); err != nil {
		return err
	}
	s.SyncNow()
	return nil
}

// SyncNow wakes the background sync loop early.
func (s *ProfileService) SyncNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SyncPendingNow runs one sync pass: photo first, then patch. The two are
// independent failure domains; both run regardless, and their errors are
// joined in the result.
func (s *ProfileService) SyncPendingNow(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.Local.ReadProfile(s.UserID)
	if err != nil {
		return err
	}

	photoErr := s.syncPhoto(ctx, state)
	patchErr := s.syncPatch(ctx, state)

	switch {
	case photoErr == nil && patchErr == nil:
		observability.ProfileSyncs.WithLabelValues("success").Inc()
	case photoErr != nil && patchErr != nil:
		observability.ProfileSyncs.WithLabelValues("failure").Inc()
	default:
		observability.ProfileSyncs.WithLabelValues("partial_failure").Inc()
	}
	return errors.Join(photoErr, patchErr)
}

func (s *ProfileService) syncPhoto(ctx context.Context, state domain.ProfileState) error {
	if state.PendingPhotoPath == "" {
		return nil
	}
	f, err := os.Open(state.PendingPhotoPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Slot points at a vanished file; heal rather than wedge. The
			// on-disk slot goes too, in case the recorded path is stale
			// and a stray pending.jpg remains.
			s.Log.Warn().Str("path", state.PendingPhotoPath).Msg("pending photo file missing, clearing slot")
			return errors.Join(s.Photos.ClearPending(), s.Local.ClearPendingPhotoPath(s.UserID))
		}
		return err
	}
	defer f.Close()

	uctx, cancel := context.WithTimeout(ctx, s.PushTimeout)
	defer cancel()
	url, err := s.Remote.UploadProfilePhoto(uctx, s.UserID, f)
	if err != nil {
		return err
	}
	if err := s.Remote.SetUserPhotoURL(uctx, s.UserID, url); err != nil {
		return err
	}

	cached, err := s.Photos.PromotePending()
	if err != nil {
		// The upload already happened; drop the orphaned slot file so it
		// cannot linger after the path below clears the KV slot.
		s.Log.Error().Err(err).Msg("promoting uploaded photo failed")
		_ = s.Photos.ClearPending()
	}
	if err := s.Local.ClearPendingPhotoPath(s.UserID); err != nil {
		return err
	}
	return s.updateCached(func(c *domain.CachedProfile) {
		c.PhotoURLRemote = url
		if cached != "" {
			c.PhotoCachePath = cached
		}
	})
}

func (s *ProfileService) syncPatch(ctx context.Context, state domain.ProfileState) error {
	if state.PendingPatch.IsEmpty() {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, s.PushTimeout)
	err := s.Remote.PatchUser(pctx, s.UserID, state.PendingPatch)
	cancel()
	if err != nil {
		if Classify(err) == ClassLogical {
			// The remote refuses this patch permanently; keeping it queued
			// would retry forever.
			s.Log.Warn().Err(err).Msg("pending patch rejected, dropping")
			return errors.Join(err, s.Local.ClearPendingPatch(s.UserID))
		}
		return err
	}
	return s.Local.ClearPendingPatch(s.UserID)
}

// RefreshFromRemote reconciles the local mirror with the remote document.
// It self-heals stale pending state: a photo slot whose file vanished is
// cleared, and a patch that already matches remote values is dropped.
// Pending fields overlay the remote values in the cached mirror, so reads
// always show the user's latest intent.
func (s *ProfileService) RefreshFromRemote(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, s.PushTimeout)
	remoteProfile, err := s.Remote.GetUser(rctx, s.UserID)
	cancel()
	if err != nil {
		return err
	}

	state, err := s.Local.ReadProfile(s.UserID)
	if err != nil {
		return err
	}

	if state.PendingPhotoPath != "" {
		if _, statErr := os.Stat(state.PendingPhotoPath); os.IsNotExist(statErr) {
			if err := errors.Join(s.Photos.ClearPending(), s.Local.ClearPendingPhotoPath(s.UserID)); err != nil {
				return err
			}
			state.PendingPhotoPath = ""
		}
	}

	if !state.PendingPatch.IsEmpty() && patchMatches(state.PendingPatch, remoteProfile) {
		if err := s.Local.ClearPendingPatch(s.UserID); err != nil {
			return err
		}
		state.PendingPatch = domain.PendingPatch{}
	}

	cached := remoteProfile
	if state.Cached != nil {
		cached.PhotoCachePath = state.Cached.PhotoCachePath
	}
	overlayPatch(&cached, state.PendingPatch)
	if err := s.Local.WriteCachedProfile(s.UserID, cached); err != nil {
		return err
	}

	s.maybeCachePhoto(ctx, state, remoteProfile)
	return nil
}

// maybeCachePhoto downloads the remote photo into the cached slot, but
// only when the URL changed and no pending photo would overwrite it.
func (s *ProfileService) maybeCachePhoto(ctx context.Context, state domain.ProfileState, remoteProfile domain.CachedProfile) {
	if remoteProfile.PhotoURLRemote == "" || state.PendingPhotoPath != "" {
		return
	}
	if state.Cached != nil && state.Cached.PhotoURLRemote == remoteProfile.PhotoURLRemote {
		if _, ok := s.Photos.CachedPath(); ok {
			return
		}
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		path, err := s.Photos.SaveCached(pr)
		_ = pr.CloseWithError(err)
		if err == nil {
			err = s.updateCached(func(c *domain.CachedProfile) { c.PhotoCachePath = path })
		}
		done <- err
	}()

	dctx, cancel := context.WithTimeout(ctx, s.PushTimeout)
	err := s.Remote.DownloadProfilePhoto(dctx, remoteProfile.PhotoURLRemote, pw)
	cancel()
	_ = pw.CloseWithError(err)
	if werr := <-done; err == nil {
		err = werr
	}
	if err != nil {
		s.Log.Warn().Err(err).Msg("caching remote photo failed")
	}
}

// Run keeps pending state flowing to the remote store until ctx is done.
func (s *ProfileService) Run(ctx context.Context) {
	var fails int
	for {
		timer := time.NewTimer(s.Retry.Delay(fails))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.kick:
			timer.Stop()
		case <-timer.C:
		}

		state, err := s.Local.ReadProfile(s.UserID)
		if err != nil || !state.HasPendingSync() {
			fails = 0
			continue
		}
		if err := s.SyncPendingNow(ctx); err != nil {
			fails++
			s.Log.Debug().Err(err).Int("consecutive_failures", fails).Msg("profile sync pass failed")
		} else {
			fails = 0
		}
	}
}

// applyLocally overlays the patch onto the cached mirror so the user sees
// the edit immediately.
func (s *ProfileService) applyLocally(patch domain.PendingPatch) {
	if err := s.updateCached(func(c *domain.CachedProfile) { overlayPatch(c, patch) }); err != nil {
		s.Log.Error().Err(err).Msg("optimistic local write failed")
	}
}

func (s *ProfileService) updateCached(mut func(*domain.CachedProfile)) error {
	state, err := s.Local.ReadProfile(s.UserID)
	if err != nil {
		return err
	}
	c := domain.CachedProfile{DocID: s.UserID, Email: s.UserID}
	if state.Cached != nil {
		c = *state.Cached
	}
	mut(&c)
	return s.Local.WriteCachedProfile(s.UserID, c)
}

func overlayPatch(c *domain.CachedProfile, p domain.PendingPatch) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.About != nil {
		c.About = *p.About
	}
	if p.Languages != nil {
		c.Languages = append([]string(nil), (*p.Languages)...)
	}
}

// patchMatches reports whether every pending field already equals the
// remote value. Languages compare as sets.
func patchMatches(p domain.PendingPatch, r domain.CachedProfile) bool {
	if p.Name != nil && *p.Name != r.Name {
		return false
	}
	if p.About != nil && *p.About != r.About {
		return false
	}
	if p.Languages != nil && !sameLanguageSet(*p.Languages, r.Languages) {
		return false
	}
	return true
}

func sameLanguageSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, l := range a {
		set[strings.ToLower(l)] = struct{}{}
	}
	for _, l := range b {
		if _, ok := set[strings.ToLower(l)]; !ok {
			return false
		}
	}
	return true
}

// canonicalizeLanguages maps entries to BCP 47 tags where they parse,
// keeps unparseable entries trimmed as-is, and drops duplicates while
// preserving first-seen order.
func canonicalizeLanguages(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if tag, err := language.Parse(entry); err == nil {
			entry = tag.String()
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out
}

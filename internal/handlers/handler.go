package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agora/internal/admission"
	"github.com/eldtechnologies/agora/internal/room"
	"github.com/eldtechnologies/agora/internal/store"
)

// nameRegex matches names that can be addressed with an @mention.
var nameRegex = regexp.MustCompile(`^[\p{L}\p{N}_\-]{1,64}$`)

// Options holds the shared dependencies for all HTTP handlers.
type Options struct {
	Identities store.IdentityStore
	Live       store.LiveStore
	Admission  *admission.Controller
	Activity   *room.Tracker
	Turns      room.TurnLock
	SessionTTL time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	identities store.IdentityStore
	live       store.LiveStore
	admission  *admission.Controller
	activity   *room.Tracker
	turns      room.TurnLock
	sessionTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &Handler{
		identities: opts.Identities,
		live:       opts.Live,
		admission:  opts.Admission,
		activity:   opts.Activity,
		turns:      opts.Turns,
		sessionTTL: opts.SessionTTL,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits name to 64 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if r := []rune(name); len(r) > 64 {
		name = string(r[:64])
	}
	return name
}

func isValidName(name string) bool {
	return nameRegex.MatchString(name)
}

package common

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// API.
	APIServer     = "https://share.mimiri.io/api"
	ClientVersion = "2.4.0"

	PreLoginPath           = "/user/pre-login/" // followed by the username
	LoginPath              = "/user/login"
	GetDataPath            = "/user/get-data"
	CreateUserPath         = "/user/create"
	UpdateUserPath         = "/user/update"
	DeleteUserPath         = "/user/delete"
	PublicKeyPath          = "/user/public-key"
	ChangesSincePath       = "/sync/changes-since"
	PushChangesPath        = "/sync/push-changes"
	MultiNotePath          = "/note/multi"
	ShareNotePath          = "/note/share"
	ShareOfferPath         = "/note/share-offer"
	DeleteSharePath        = "/note/share/delete"
	NotificationCreatePath = "/notification/create-url"
	UpdateUserDataPath     = "/user/update-data"
	UserAvailablePath      = "/user/available"
	KeyCreatePath          = "/key/create"
	ReadNotePath           = "/note/read"

	// Item types.
	NoteItemTypeMetadata = "metadata"
	NoteItemTypeText     = "text"
	NoteItemTypeHistory  = "history"

	// Signature labels.
	SignatureNameUser    = "user"
	SignatureNameKey     = "key"
	SignatureNameOldUser = "old-user"

	// Accounts.
	LocalAccountName       = "local"
	AnonymousAccountPrefix = "mimiri_a_"

	// Sync.
	MaxPullRounds     = 100
	SyncBaseDelayMs   = 1000
	SyncMaxDelayMs    = 300000
	IssuedSyncIDLimit = 25

	TimeLayout = "2006-01-02T15:04:05.000Z"

	// LOGGING.
	LibName       = "mimiri" // name of library used in logging
	MaxDebugChars = 120      // number of characters to display when logging API response body

	// HTTP.
	MaxIdleConnections = 100 // HTTP transport limit
	RequestTimeout     = 30  // HTTP transport limit
	ConnectionTimeout  = 3   // HTTP transport dialer limit
	KeepAliveTimeout   = 60  // HTTP transport dialer limit
	MaxRequestRetries  = 3
)

func NewHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = MaxRequestRetries
	c.Backoff = retryablehttp.DefaultBackoff
	c.HTTPClient.Timeout = RequestTimeout * time.Second
	c.Logger = nil
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if v, ok, err := ParseEnvInt64(EnvRequestTimeout); err == nil && ok {
		c.HTTPClient.Timeout = time.Duration(v) * time.Second
	}

	if v, ok, err := ParseEnvInt64(EnvRetryWaitMin); err == nil && ok {
		c.RetryWaitMin = time.Duration(v) * time.Second
	}

	if v, ok, err := ParseEnvInt64(EnvRetryWaitMax); err == nil && ok {
		c.RetryWaitMax = time.Duration(v) * time.Second
	}

	return c
}

// Now returns the current UTC time in the wire timestamp layout.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

const (
	HeaderContentType = "Content-Type"
	HeaderVersion     = "X-Mimiri-Version"
)

const (
	APIContentType = "application/json"
)

package config

const (
	defaultRepositoryRoot        = "/OMERO"
	defaultRepository            = defaultRepositoryRoot + "/ManagedRepository"
	defaultLegacyFiles           = defaultRepositoryRoot + "/Files"
	defaultLegacyPixels          = defaultRepositoryRoot + "/Pixels"
	defaultArchiveDir            = defaultRepositoryRoot + "/Archive"
	defaultJobRoot               = defaultArchiveDir + "/Job"
	defaultArchiveLog            = defaultArchiveDir + "/Log"
	defaultRegisterDB            = defaultArchiveDir + "/register.db"
	defaultCatalogDB             = defaultArchiveDir + "/catalog.db"
	defaultLogDir                = "~/.local/share/archivist/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultMaxRetries            = 3
	defaultExpiryDays            = 30
	defaultMinFreeGiB            = 10
	defaultSinkKind              = SinkFile
	defaultFileArchiveRoot       = defaultArchiveDir
	defaultArkivumBaseURL        = "https://ark.host.com:8443"
	defaultArkivumMountRoot      = "/arkivum"
	defaultArkivumMountPath      = "omero"
	defaultArkivumTargetState    = "green"
	defaultArkivumIngestDelay    = 600
	defaultArkivumRequestTimeout = 30
	defaultNotifyTransport       = TransportNone
	defaultNotifyRequestTimeout  = 10
	defaultNotifyFrom            = "admin@host.com"
)

// Sink kinds.
const (
	SinkFile    = "file"
	SinkArkivum = "arkivum"
)

// Notification transports.
const (
	TransportNone = "none"
	TransportNtfy = "ntfy"
	TransportSMTP = "smtp"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			JobRoot:      defaultJobRoot,
			ArchiveLog:   defaultArchiveLog,
			RegisterDB:   defaultRegisterDB,
			CatalogDB:    defaultCatalogDB,
			LogDir:       defaultLogDir,
			Repository:   defaultRepository,
			LegacyFiles:  defaultLegacyFiles,
			LegacyPixels: defaultLegacyPixels,
		},
		Workflow: Workflow{
			MaxRetries: defaultMaxRetries,
			ExpiryDays: defaultExpiryDays,
			MinFreeGiB: defaultMinFreeGiB,
		},
		Sink: Sink{
			Kind: defaultSinkKind,
			File: FileSink{
				ArchiveRoot: defaultFileArchiveRoot,
			},
			Arkivum: Arkivum{
				BaseURL:            defaultArkivumBaseURL,
				MountRoot:          defaultArkivumMountRoot,
				MountPath:          defaultArkivumMountPath,
				TargetState:        defaultArkivumTargetState,
				IngestDelaySeconds: defaultArkivumIngestDelay,
				RequestTimeout:     defaultArkivumRequestTimeout,
			},
		},
		Notifications: Notifications{
			From:           defaultNotifyFrom,
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

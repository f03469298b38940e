package source

// WALProvider is the WAL subsystem this manager is embedded in (§1): it
// rolls logs (calling PreLogRoll/PostLogRoll on the manager around every
// rotation, §4.4) and exposes how much of a given log has been committed to
// disk. Manager hands it out through GetFs/GetLogDir/GetOldLogDir; the
// default shipper (DefaultSource) reads no WAL data and does not consult it.
type WALProvider interface {
	// CommittedLength returns how many bytes of walPath are safely readable.
	CommittedLength(walPath string) (int64, error)
	// LogDir is the directory holding WALs actively being written.
	LogDir() string
	// OldLogDir is the directory WALs are archived to once rolled (§4.6,
	// §4.7 reference paths "relative to oldLogDir").
	OldLogDir() string
}

/*
Package log provides structured logging for fleetctl via zerolog.

Init configures the package-level Logger once at process start (level,
JSON vs console output, destination). Long-running components create a
child logger at construction time with WithComponent, and attach a
stable identifier with WithVersionID, WithBackupID, or WithRunID so
every line from one operation can be grepped together.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("rollback-executor").With().
		Logger()
	logger.Info().Str("version_id", v.ID).Msg("rollback started")
*/
package log

// Package logging builds the zap loggers of the kernel and of app host
// processes.
//
// The kernel logs JSON in production and colored console lines with -dev.
// An app host writes the wire protocol on stdout, so NewHost always logs
// JSON to stderr, where the kernel reads each line and re-logs it under
// the app's id.
//
// The level of a Logger from New is an atomic level. The web monitor reads
// and changes it through Level and SetLevel without a restart:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	if err != nil {
//		return err
//	}
//	_ = logger.SetLevel("debug")
package logging

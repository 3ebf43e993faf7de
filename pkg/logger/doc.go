// Package logger provides structured logging for xscraper on top of zerolog.
//
// Components receive a Logger and attach context with WithField/WithFields
// (keyword, identity, proxy, attempt). The package also keeps a global logger
// initialised from config.LoggingConfig for the CLI.
package logger

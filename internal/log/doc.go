// Package log provides secure logging functionality with automatic sanitization
// of sensitive information, built on top of the standard slog package.
//
// # Security Features
//
// The SecureHandler sanitizes log output before it reaches any writer:
//   - Login credentials, CAPTCHA answers and API keys are replaced by MaskValue
//   - Cookie and Set-Cookie values are masked while cookie names stay readable
//   - Values that look like tokens or private keys are masked whatever their key
//
// The log file written with OpenFile is mailed on abnormal exit, so even
// verbose output must never contain secrets.
//
// # Usage
//
//	f, _ := log.OpenFile(path)
//	logger := log.NewSecureLogger(io.MultiWriter(os.Stderr, f), verbose)
//	logger.Info("login succeeded", "cookie", "sid=abc") // cookie=sid=***
//	slog.SetDefault(logger)
package log

// Package notify reports abnormal crawl endings.
//
// Hook collects callbacks registered with OnFatal and runs them once.
// SMTPNotifier is such a callback: it mails the tail of the log file.
package notify

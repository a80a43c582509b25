// Package captcha turns CAPTCHA images into text.
//
// The login flow treats solving as an opaque service: it hands over an
// Image and gets back the decoded characters or an error. Three solvers are
// provided:
//
//   - ClaudeSolver sends the image to Anthropic's Messages API
//   - OpenAISolver sends the image to an OpenAI chat completion model
//   - HTTPSolver posts the image to a self-hosted OCR endpoint
//
// PrepareImage normalises images before they are sent: formats the vision
// APIs do not accept are re-encoded as PNG and oversized images are scaled
// down.
package captcha

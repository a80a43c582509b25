// Package auth drives the login sequence of an authenticated crawl.
//
// One call to Authenticator.Login is one attempt:
//
//  1. GET the login page and take its cookies
//  2. Locate the login form
//  3. Fetch and solve the CAPTCHA, if the site has one
//  4. POST credentials, CAPTCHA answer, hidden inputs and the submit button
//  5. Follow a post-login redirect
//
// Attempts are counted. Running out of attempts, or a login page without
// any recognisable form, is fatal to the crawl. Every other failure is
// reported as an unsuccessful attempt so that the crawler can back off and
// try again.
package auth

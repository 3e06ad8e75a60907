// Package httpapi is the HTTP boundary of the site selector. Handlers stay
// thin: they translate requests into calls on the master or slave pipeline,
// execute the redirects those return and write login sessions. All state
// changes visible to the user happen here, never inside the pipelines.
package httpapi

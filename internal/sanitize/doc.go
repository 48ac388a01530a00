// Package sanitize turns the HTML bodies ServiceNow stores in knowledge
// articles into short plain text that is safe to embed in JSON tool
// results.
package sanitize

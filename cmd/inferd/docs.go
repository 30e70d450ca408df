package main

// General API documentation for swaggo. Run `swag init -g cmd/inferd/docs.go -o docs` to regenerate docs.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for local LLM chat inference.
//
// @contact.name   inferd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

// Package docs provides generated OpenAPI documentation.
//
// Tally API
//
//	@title			Tally API
//	@version		1.0
//	@description	Receipt OCR and categorization pipeline, with budget metrics and model-written advice.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/tally
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate swag init -g ../cmd/tally/serve.go -o ./swagger --parseDependency --parseInternal

// Package docs registers the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/ping": {
            "get": {"tags": ["health"], "summary": "Liveness probe", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.PingResponse"}}}}
        },
        "/auth": {
            "post": {"tags": ["auth"], "summary": "Authenticate terminal", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.AuthRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AuthResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }}
        },
        "/auth/logout": {
            "post": {"security": [{"SyncToken": []}], "tags": ["auth"], "summary": "Revoke token", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.MessageResponse"}}}}
        },
        "/terminals": {
            "get": {"security": [{"SyncToken": []}], "tags": ["terminals"], "summary": "List terminals", "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}}
        },
        "/collections": {
            "get": {"security": [{"SyncToken": []}], "tags": ["sync"], "summary": "List collections", "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}}
        },
        "/collections/{collection}/metadata": {
            "get": {"security": [{"SyncToken": []}], "tags": ["sync"], "summary": "Get collection metadata", "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "collection", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.MetadataResponse"}}}}
        },
        "/collections/{collection}/data": {
            "get": {"security": [{"SyncToken": []}], "tags": ["sync"], "summary": "Versioned pull", "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "collection", "in": "path", "required": true},
                    {"type": "integer", "name": "sinceVersion", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.PullResponse"}}}}
        },
        "/collections/{collection}/push": {
            "post": {"security": [{"SyncToken": []}], "tags": ["sync"], "summary": "Bulk push", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "collection", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ItemsRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.PushResponse"}}}}
        },
        "/delta/{collection}": {
            "get": {"security": [{"SyncToken": []}], "tags": ["sync"], "summary": "Delta pull", "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "collection", "in": "path", "required": true},
                    {"type": "string", "name": "since", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}}
        },
        "/status": {
            "get": {"security": [{"SyncToken": []}], "tags": ["sync"], "summary": "Multi-collection status", "responses": {"200": {"description": "OK"}}}
        },
        "/config": {
            "get": {"security": [{"SyncToken": []}], "tags": ["sync"], "summary": "Global config", "responses": {"200": {"description": "OK"}}}
        },
        "/transactions": {
            "post": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Append transactions",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ItemsRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AppendResponse"}}}}
        },
        "/transactions/pending": {
            "get": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Drain pending transactions", "responses": {"200": {"description": "OK"}}}
        },
        "/cash/movements": {
            "post": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Append cash movements",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ItemsRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AppendResponse"}}}}
        },
        "/z-reports": {
            "post": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Append Z-reports",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ItemsRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AppendResponse"}}}}
        },
        "/operational-status": {
            "get": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Operational status", "responses": {"200": {"description": "OK"}}}
        },
        "/errors": {
            "get": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Read error log", "responses": {"200": {"description": "OK"}}},
            "post": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Report sync error", "responses": {"200": {"description": "OK"}}}
        },
        "/history/{terminalId}": {
            "get": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Terminal history",
                "parameters": [{"type": "string", "name": "terminalId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}}
        },
        "/inventory/movements": {
            "post": {"security": [{"SyncToken": []}], "tags": ["inventory"], "summary": "Append inventory movements",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ItemsRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AppendResponse"}}}}
        },
        "/inventory/movements/pending": {
            "get": {"security": [{"SyncToken": []}], "tags": ["inventory"], "summary": "Drain pending movements", "responses": {"200": {"description": "OK"}}}
        },
        "/inventory/stock-balances": {
            "get": {"security": [{"SyncToken": []}], "tags": ["inventory"], "summary": "Stock balances",
                "parameters": [
                    {"type": "string", "name": "productId", "in": "query"},
                    {"type": "string", "name": "warehouseId", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}}
        },
        "/inventory/kardex/{productId}": {
            "get": {"security": [{"SyncToken": []}], "tags": ["inventory"], "summary": "Product kardex",
                "parameters": [{"type": "string", "name": "productId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}}
        },
        "/reset/{terminalId}": {
            "post": {"security": [{"SyncToken": []}], "tags": ["operations"], "summary": "Reset terminal data",
                "parameters": [
                    {"type": "string", "name": "terminalId", "in": "path", "required": true},
                    {"type": "boolean", "name": "includeTerminal", "in": "query"},
                    {"type": "string", "name": "X-Manager-Pin", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }}
        },
        "/ws": {
            "get": {"tags": ["sync"], "summary": "Change notifications",
                "security": [{"SyncToken": []}],
                "responses": {"101": {"description": "Switching Protocols"}}}
        }
    },
    "definitions": {
        "models.AuthRequest": {"type": "object", "properties": {
            "terminalId": {"type": "string"}, "deviceToken": {"type": "string"}}},
        "models.AuthResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "token": {"type": "string"}, "terminalId": {"type": "string"}, "expiresIn": {"type": "integer"}}},
        "models.ItemsRequest": {"type": "object", "properties": {
            "items": {"type": "array", "items": {"type": "object"}}}},
        "models.SyncMetadata": {"type": "object", "properties": {
            "version": {"type": "integer"}, "lastUpdated": {"type": "string"}, "itemCount": {"type": "integer"}}},
        "models.MetadataResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "collection": {"type": "string"}, "metadata": {"$ref": "#/definitions/models.SyncMetadata"}}},
        "models.PullResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "collection": {"type": "string"}, "items": {"type": "array", "items": {"type": "object"}},
            "version": {"type": "integer"}, "upToDate": {"type": "boolean"}}},
        "models.PushResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "collection": {"type": "string"}, "count": {"type": "integer"}, "metadata": {"$ref": "#/definitions/models.SyncMetadata"}}},
        "models.AppendResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "addedCount": {"type": "integer"}, "received": {"type": "integer"}, "metadata": {"$ref": "#/definitions/models.SyncMetadata"}}},
        "models.MessageResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "message": {"type": "string"}}},
        "models.ErrorResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "message": {"type": "string"}}},
        "models.PingResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "message": {"type": "string"}, "serverTime": {"type": "string"}}}
    },
    "securityDefinitions": {
        "SyncToken": {"type": "apiKey", "name": "X-Sync-Token", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/sync",
	Schemes:          []string{},
	Title:            "tillsync API",
	Description:      "Synchronization server for point-of-sale terminals.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

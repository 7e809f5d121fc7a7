package testserver

// Document returns the OpenAPI 3 description of the server's resource
// endpoints with baseURL as its only server.
func Document(baseURL string) map[string]any {
	idParam := map[string]any{
		"name":     "id",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "integer", "minimum": 1, "maximum": 3},
	}
	userRef := map[string]any{"$ref": "#/components/schemas/User"}
	jsonBody := map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/NewUser"}},
		},
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "apisim test server",
			"version": "1.0.0",
		},
		"servers": []any{map[string]any{"url": baseURL}},
		"paths": map[string]any{
			"/health": map[string]any{
				"get": map[string]any{
					"operationId": "health",
					"tags":        []any{"ops"},
					"responses":   map[string]any{"200": map[string]any{"description": "ok"}},
				},
			},
			"/users": map[string]any{
				"get": map[string]any{
					"operationId": "listUsers",
					"tags":        []any{"users"},
					"parameters": []any{map[string]any{
						"name":   "limit",
						"in":     "query",
						"schema": map[string]any{"type": "integer", "minimum": 0, "maximum": 50},
					}},
					"responses": map[string]any{"200": map[string]any{"description": "users"}},
				},
				"post": map[string]any{
					"operationId": "createUser",
					"tags":        []any{"users"},
					"requestBody": jsonBody,
					"responses":   map[string]any{"201": map[string]any{"description": "created"}},
				},
			},
			"/users/{id}": map[string]any{
				"parameters": []any{idParam},
				"get": map[string]any{
					"operationId": "getUser",
					"tags":        []any{"users"},
					"responses": map[string]any{
						"200": map[string]any{"description": "user", "content": map[string]any{
							"application/json": map[string]any{"schema": userRef},
						}},
						"404": map[string]any{"description": "not found"},
					},
				},
				"put": map[string]any{
					"operationId": "updateUser",
					"tags":        []any{"users"},
					"requestBody": jsonBody,
					"responses":   map[string]any{"200": map[string]any{"description": "updated"}},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"NewUser": map[string]any{
					"type":     "object",
					"required": []any{"name", "email"},
					"properties": map[string]any{
						"name":   map[string]any{"type": "string", "maxLength": 40},
						"email":  map[string]any{"type": "string", "format": "email"},
						"status": map[string]any{"type": "string", "enum": []any{"active", "suspended"}},
					},
				},
				"User": map[string]any{
					"allOf": []any{
						map[string]any{"$ref": "#/components/schemas/NewUser"},
						map[string]any{
							"type":     "object",
							"required": []any{"id"},
							"properties": map[string]any{
								"id":         map[string]any{"type": "integer"},
								"created_at": map[string]any{"type": "string", "format": "date-time"},
							},
						},
					},
				},
			},
		},
	}
}

package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Talim Live API",
        "description": "Live teaching session coordination service",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and token lifecycle"},
        {"name": "Classes", "description": "Class and course reads"},
        {"name": "Sessions", "description": "Live session lifecycle and sync"},
        {"name": "Drawings", "description": "Page annotation overlays"},
        {"name": "Reports", "description": "Progress report exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {
                    "200": {"description": "Tokens issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "Tokens rotated"},
                    "401": {"description": "Expired or revoked token"}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke refresh token",
                "responses": {
                    "204": {"description": "Logged out"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user",
                "responses": {
                    "200": {"description": "User info"}
                }
            }
        },
        "/classes": {
            "get": {
                "tags": ["Classes"],
                "summary": "List classes visible to the caller",
                "responses": {
                    "200": {"description": "Class list"}
                }
            }
        },
        "/classes/{id}": {
            "get": {
                "tags": ["Classes"],
                "summary": "Get one class",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Class"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/courses/{id}": {
            "get": {
                "tags": ["Classes"],
                "summary": "Get a course with its book list",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Course"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/classes/{classId}/active-session": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Get the class's active session",
                "parameters": [{"name": "classId", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Session view, session omitted when idle"}
                }
            }
        },
        "/sessions": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Start a live session",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/StartSessionRequest"}}],
                "responses": {
                    "201": {"description": "Session started"},
                    "409": {"description": "Class already has an active session"}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Get a session snapshot",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Session view"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/sessions/{id}/join": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Join a live session",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Joined"},
                    "403": {"description": "Not enrolled"},
                    "409": {"description": "No active session"}
                }
            }
        },
        "/sessions/{id}/page": {
            "put": {
                "tags": ["Sessions"],
                "summary": "Advance the class-wide page",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Page updated"},
                    "403": {"description": "Not the owning teacher"}
                }
            }
        },
        "/sessions/{id}/progress": {
            "put": {
                "tags": ["Sessions"],
                "summary": "Update the caller's own progress",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Progress updated"},
                    "403": {"description": "Not a session student"}
                }
            }
        },
        "/sessions/{id}/end": {
            "post": {
                "tags": ["Sessions"],
                "summary": "End a live session with feedback",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Session completed"},
                    "409": {"description": "No active session"}
                }
            }
        },
        "/sessions/{id}/watch": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Subscribe to live session snapshots over websocket",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "101": {"description": "Switching protocols"},
                    "403": {"description": "Forbidden"}
                }
            }
        },
        "/drawings": {
            "post": {
                "tags": ["Drawings"],
                "summary": "Save a drawing overlay",
                "responses": {
                    "201": {"description": "Drawing saved"},
                    "403": {"description": "Forbidden"}
                }
            }
        },
        "/drawings/latest": {
            "get": {
                "tags": ["Drawings"],
                "summary": "Get the latest drawing for a page",
                "responses": {
                    "200": {"description": "Drawing, empty lines when blank"}
                }
            }
        },
        "/drawings/history": {
            "get": {
                "tags": ["Drawings"],
                "summary": "List recent drawing saves for a page",
                "responses": {
                    "200": {"description": "Drawing list, newest first"}
                }
            }
        },
        "/classes/{classId}/students/{studentId}/report": {
            "get": {
                "tags": ["Reports"],
                "summary": "Export a student's cumulative progress report",
                "parameters": [
                    {"name": "classId", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["pdf", "csv"]}
                ],
                "responses": {
                    "200": {"description": "Report file"},
                    "403": {"description": "Forbidden"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "StartSessionRequest": {
            "type": "object",
            "properties": {
                "classId": {"type": "string"},
                "book": {"type": "string"},
                "initialPage": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

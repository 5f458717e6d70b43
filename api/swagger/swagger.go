package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Course Insights Bridge",
        "description": "Builds anonymized course analytics reports and delivers them to the AI insights service.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Reports", "description": "Report runs and their delivery status"},
        {"name": "Insights", "description": "Analytics returned by the AI service"},
        {"name": "Admin", "description": "Administrative operations"}
    ],
    "paths": {
        "/courses/{courseId}/reports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a course report",
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Course not accessible", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Reports"],
                "summary": "List recent reports for a course",
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{courseId}/reports/run": {
            "post": {
                "tags": ["Reports"],
                "summary": "Build and deliver a course report synchronously",
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "200": {"description": "Run finished; meta.success tells whether it was delivered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{courseId}/insights": {
            "get": {
                "tags": ["Insights"],
                "summary": "Latest insights for a course",
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No insights cached", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports": {
            "get": {
                "tags": ["Reports"],
                "summary": "List reports in a given status",
                "parameters": [
                    {"name": "status", "in": "query", "required": true, "type": "string", "enum": ["pending", "sending", "sent", "failed"]},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Get a report run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}/insights": {
            "get": {
                "tags": ["Insights"],
                "summary": "Poll the analytics job of a sent report",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Insights ready", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Still processing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/salt/rotate": {
            "post": {
                "tags": ["Admin"],
                "summary": "Rotate the anonymization salt",
                "description": "Breaks continuity of every pseudonym previously sent to the analytics service.",
                "responses": {
                    "200": {"description": "Rotated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/stats": {
            "get": {
                "tags": ["Admin"],
                "summary": "Report and delivery counters",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "definitions": {
        "ReportRequest": {
            "type": "object",
            "properties": {
                "report_type": {"type": "string", "enum": ["on_demand", "scheduled", "real_time", "end_of_course"]},
                "trigger_type": {"type": "string", "enum": ["manual", "cron", "event", "completion"]},
                "date_from": {"type": "string", "format": "date-time"},
                "date_to": {"type": "string", "format": "date-time"},
                "triggered_by": {"type": "integer"}
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

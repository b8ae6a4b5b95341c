package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Credential Lifecycle API",
        "description": "Tracks time-bound employee credentials and orchestrates their renewal workflows.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Credentials", "description": "Credential registry sync, queries and per-credential commands"},
        {"name": "Workflows", "description": "Renewal workflow progress and upstream callbacks"},
        {"name": "Lifecycle", "description": "Ticks, predictions, compliance and alerts"},
        {"name": "Documents", "description": "Signed renewal document downloads"}
    ],
    "paths": {
        "/tenants/{tenantId}/credentials": {
            "get": {
                "tags": ["Credentials"],
                "summary": "List credentials",
                "parameters": [
                    {"$ref": "#/parameters/tenantId"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "holderId", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/credentials/expiring": {
            "get": {
                "tags": ["Credentials"],
                "summary": "Tracked credentials expiring within a window",
                "produces": ["application/json", "text/csv", "application/pdf"],
                "parameters": [
                    {"$ref": "#/parameters/tenantId"},
                    {"name": "days", "in": "query", "type": "integer", "default": 90},
                    {"name": "format", "in": "query", "type": "string", "enum": ["json", "csv", "pdf"]}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/tenants/{tenantId}/credentials/sync": {
            "post": {
                "tags": ["Credentials"],
                "summary": "Upsert a batch of registry credential records",
                "parameters": [
                    {"$ref": "#/parameters/tenantId"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SyncBatchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid batch", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tenants/{tenantId}/credentials/{id}": {
            "get": {
                "tags": ["Credentials"],
                "summary": "Credential detail with classification and compliance issues",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"$ref": "#/parameters/id"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tenants/{tenantId}/credentials/{id}/workflow": {
            "get": {
                "tags": ["Credentials"],
                "summary": "Current or most recent renewal workflow of a credential",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/credentials/{id}/alerts": {
            "get": {
                "tags": ["Credentials"],
                "summary": "Alerts raised for a credential",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"$ref": "#/parameters/id"}, {"name": "limit", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/credentials/{id}/renewal": {
            "post": {
                "tags": ["Credentials"],
                "summary": "Open a renewal workflow for a credential",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"$ref": "#/parameters/id"}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Workflow already open", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tenants/{tenantId}/credentials/{id}/documents": {
            "post": {
                "tags": ["Credentials"],
                "summary": "Generate and verify the renewal document set",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/credentials/{id}/cancel": {
            "post": {
                "tags": ["Credentials"],
                "summary": "Cancel a credential and stop its renewal",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/workflows": {
            "get": {
                "tags": ["Workflows"],
                "summary": "List renewal workflows, most urgent first",
                "parameters": [
                    {"$ref": "#/parameters/tenantId"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["open", "completed", "failed", "all"]},
                    {"name": "priority", "in": "query", "type": "string", "enum": ["normal", "high", "urgent"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/workflows/{id}": {
            "get": {
                "tags": ["Workflows"],
                "summary": "Workflow with progress counters",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/workflows/{id}/advance": {
            "post": {
                "tags": ["Workflows"],
                "summary": "Advance a workflow by one step",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"$ref": "#/parameters/id"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concurrent advance", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tenants/{tenantId}/workflows/{id}/callbacks": {
            "post": {
                "tags": ["Workflows"],
                "summary": "Record an upstream status update for the current external stage",
                "parameters": [
                    {"$ref": "#/parameters/tenantId"},
                    {"$ref": "#/parameters/id"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/StageCallbackRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Workflow is at another stage", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tenants/{tenantId}/ticks": {
            "post": {
                "tags": ["Lifecycle"],
                "summary": "Run a lifecycle tick for the tenant now",
                "parameters": [{"$ref": "#/parameters/tenantId"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/predictions": {
            "get": {
                "tags": ["Lifecycle"],
                "summary": "Upcoming expirations and historical renewal success rate",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"name": "horizon", "in": "query", "type": "integer", "default": 180}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/compliance": {
            "get": {
                "tags": ["Lifecycle"],
                "summary": "Compliance dashboard for the tenant",
                "parameters": [{"$ref": "#/parameters/tenantId"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/tenants/{tenantId}/alerts": {
            "get": {
                "tags": ["Lifecycle"],
                "summary": "Newest alerts of the tenant",
                "parameters": [{"$ref": "#/parameters/tenantId"}, {"name": "limit", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/documents/{token}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Download a prepared renewal document",
                "produces": ["application/pdf"],
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "PDF document"},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "parameters": {
        "tenantId": {"name": "tenantId", "in": "path", "required": true, "type": "string"},
        "id": {"name": "id", "in": "path", "required": true, "type": "string"}
    },
    "definitions": {
        "SyncCredentialRequest": {
            "type": "object",
            "required": ["holderId", "credentialType", "externalNumber", "issueDate", "expiryDate", "nationality"],
            "properties": {
                "holderId": {"type": "string"},
                "credentialType": {"type": "string"},
                "externalNumber": {"type": "string"},
                "issueDate": {"type": "string", "format": "date-time"},
                "expiryDate": {"type": "string", "format": "date-time"},
                "sponsorId": {"type": "string"},
                "nationality": {"type": "string"},
                "attributes": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "SyncBatchRequest": {
            "type": "object",
            "required": ["records"],
            "properties": {
                "records": {"type": "array", "maxItems": 500, "items": {"$ref": "#/definitions/SyncCredentialRequest"}}
            }
        },
        "StageCallbackRequest": {
            "type": "object",
            "required": ["stage", "outcome"],
            "properties": {
                "stage": {"type": "string"},
                "outcome": {"type": "string", "enum": ["completed", "failed", "pending"]},
                "newExpiryDate": {"type": "string", "format": "date-time"},
                "reference": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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

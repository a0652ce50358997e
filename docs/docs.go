// Package docs registers the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "description": "Sequential TCP port scanner. Each port is classified Open, Closed or Filtered using one non-blocking connect attempt bounded by a per-port timeout.",
    "title": "portscan API",
    "license": {
      "name": "MIT",
      "url": "https://opensource.org/licenses/MIT"
    },
    "version": "1.0"
  },
  "basePath": "/",
  "schemes": [
    "http"
  ],
  "securityDefinitions": {
    "ApiKeyAuth": {
      "type": "apiKey",
      "name": "Authorization",
      "in": "header",
      "description": "Bearer <API_KEY>. Only enforced when the service has an API key configured."
    }
  },
  "paths": {
    "/scan/{address}/{start}": {
      "get": {
        "produces": [
          "application/json"
        ],
        "summary": "Scan a single port",
        "operationId": "scanPort",
        "tags": [
          "Scan"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "$ref": "#/parameters/address"
          },
          {
            "$ref": "#/parameters/start"
          }
        ],
        "responses": {
          "200": {
            "description": "One result for the requested port",
            "schema": {
              "type": "array",
              "items": {
                "$ref": "#/definitions/PortResult"
              }
            }
          },
          "400": {
            "$ref": "#/responses/BadRequest"
          },
          "401": {
            "$ref": "#/responses/Unauthorized"
          },
          "405": {
            "$ref": "#/responses/MethodNotAllowed"
          },
          "429": {
            "$ref": "#/responses/TooManyRequests"
          },
          "500": {
            "$ref": "#/responses/InternalError"
          }
        }
      }
    },
    "/scan/{address}/{start}/{end}": {
      "get": {
        "produces": [
          "application/json"
        ],
        "summary": "Scan a port range",
        "description": "Ports are probed one at a time in ascending order; the response lists every port in the range.",
        "operationId": "scanRange",
        "tags": [
          "Scan"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "$ref": "#/parameters/address"
          },
          {
            "$ref": "#/parameters/start"
          },
          {
            "name": "end",
            "in": "path",
            "required": true,
            "type": "integer",
            "minimum": 1,
            "maximum": 65535,
            "description": "Last port, inclusive"
          }
        ],
        "responses": {
          "200": {
            "description": "One result per port in ascending order",
            "schema": {
              "type": "array",
              "items": {
                "$ref": "#/definitions/PortResult"
              }
            }
          },
          "400": {
            "$ref": "#/responses/BadRequest"
          },
          "401": {
            "$ref": "#/responses/Unauthorized"
          },
          "405": {
            "$ref": "#/responses/MethodNotAllowed"
          },
          "429": {
            "$ref": "#/responses/TooManyRequests"
          },
          "500": {
            "$ref": "#/responses/InternalError"
          }
        }
      }
    },
    "/scans": {
      "post": {
        "consumes": [
          "application/json"
        ],
        "produces": [
          "application/json"
        ],
        "summary": "Queue a scan task",
        "description": "Stores a pending task and queues it for background workers. Poll GET /scans/{id} for the outcome.",
        "operationId": "createScan",
        "tags": [
          "Scans"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "description": "Scan request parameters",
            "name": "scanRequest",
            "in": "body",
            "required": true,
            "schema": {
              "$ref": "#/definitions/CreateScanRequest"
            }
          }
        ],
        "responses": {
          "202": {
            "description": "Scan task accepted",
            "schema": {
              "$ref": "#/definitions/ScanAcceptedResponse"
            }
          },
          "400": {
            "$ref": "#/responses/BadRequest"
          },
          "401": {
            "$ref": "#/responses/Unauthorized"
          },
          "429": {
            "$ref": "#/responses/TooManyRequests"
          },
          "500": {
            "$ref": "#/responses/InternalError"
          }
        }
      }
    },
    "/scans/{id}": {
      "get": {
        "produces": [
          "application/json"
        ],
        "summary": "Get scan task status and results",
        "operationId": "getScan",
        "tags": [
          "Scans"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "name": "id",
            "in": "path",
            "required": true,
            "type": "string",
            "format": "uuid",
            "description": "Scan task ID (UUID v4)"
          }
        ],
        "responses": {
          "200": {
            "description": "Current task snapshot",
            "schema": {
              "$ref": "#/definitions/ScanTask"
            }
          },
          "400": {
            "$ref": "#/responses/BadRequest"
          },
          "401": {
            "$ref": "#/responses/Unauthorized"
          },
          "404": {
            "description": "Unknown or expired task",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "429": {
            "$ref": "#/responses/TooManyRequests"
          },
          "500": {
            "$ref": "#/responses/InternalError"
          }
        }
      }
    },
    "/healthz": {
      "get": {
        "produces": [
          "application/json"
        ],
        "summary": "Liveness probe",
        "operationId": "health",
        "tags": [
          "Health"
        ],
        "responses": {
          "200": {
            "description": "Service is up",
            "schema": {
              "$ref": "#/definitions/HealthResponse"
            }
          },
          "503": {
            "description": "Task store unreachable",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          }
        }
      }
    }
  },
  "parameters": {
    "address": {
      "name": "address",
      "in": "path",
      "required": true,
      "type": "string",
      "description": "IPv4/IPv6 literal or resolvable host name"
    },
    "start": {
      "name": "start",
      "in": "path",
      "required": true,
      "type": "integer",
      "minimum": 1,
      "maximum": 65535,
      "description": "First (or only) port"
    }
  },
  "responses": {
    "BadRequest": {
      "description": "Invalid address, port or payload",
      "schema": {
        "$ref": "#/definitions/ErrorResponse"
      }
    },
    "Unauthorized": {
      "description": "Missing or incorrect API key",
      "schema": {
        "$ref": "#/definitions/ErrorResponse"
      }
    },
    "MethodNotAllowed": {
      "description": "Only GET is allowed on this path",
      "schema": {
        "$ref": "#/definitions/ErrorResponse"
      }
    },
    "TooManyRequests": {
      "description": "Rate limit exceeded",
      "schema": {
        "$ref": "#/definitions/ErrorResponse"
      }
    },
    "InternalError": {
      "description": "Internal error",
      "schema": {
        "$ref": "#/definitions/ErrorResponse"
      }
    }
  },
  "definitions": {
    "PortResult": {
      "type": "object",
      "required": [
        "port",
        "state"
      ],
      "properties": {
        "port": {
          "type": "integer",
          "example": 22
        },
        "state": {
          "type": "string",
          "enum": [
            "Open",
            "Closed",
            "Filtered"
          ],
          "example": "Open"
        }
      }
    },
    "CreateScanRequest": {
      "type": "object",
      "required": [
        "address",
        "port_start"
      ],
      "properties": {
        "address": {
          "type": "string",
          "example": "scanme.example"
        },
        "port_start": {
          "type": "integer",
          "minimum": 1,
          "maximum": 65535,
          "example": 20
        },
        "port_end": {
          "type": "integer",
          "minimum": 1,
          "maximum": 65535,
          "example": 25,
          "description": "Defaults to port_start"
        }
      }
    },
    "ScanAcceptedResponse": {
      "type": "object",
      "properties": {
        "id": {
          "type": "string",
          "format": "uuid"
        },
        "status": {
          "type": "string",
          "example": "pending"
        }
      }
    },
    "ScanTask": {
      "type": "object",
      "properties": {
        "id": {
          "type": "string",
          "format": "uuid"
        },
        "status": {
          "type": "string",
          "enum": [
            "pending",
            "running",
            "completed",
            "failed"
          ]
        },
        "address": {
          "type": "string"
        },
        "port_start": {
          "type": "integer"
        },
        "port_end": {
          "type": "integer"
        },
        "results": {
          "type": "array",
          "items": {
            "$ref": "#/definitions/PortResult"
          }
        },
        "created_at": {
          "type": "string",
          "format": "date-time"
        },
        "completed_at": {
          "type": "string",
          "format": "date-time"
        },
        "error": {
          "type": "string"
        }
      }
    },
    "HealthResponse": {
      "type": "object",
      "properties": {
        "status": {
          "type": "string",
          "example": "ok"
        }
      }
    },
    "ErrorResponse": {
      "type": "object",
      "properties": {
        "error": {
          "type": "string",
          "example": "task not found"
        }
      }
    }
  }
}
`

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

type swaggerDoc struct{}

func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

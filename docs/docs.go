// Package docs holds the OpenAPI document served under /swagger. It mirrors
// the handler annotations; regenerate with swag init -g cmd/server/main.go.
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
        "/api/candles": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Stores candles whose closes later resolve expired predictions",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "candles"
                ],
                "summary": "Ingest OHLCV candles",
                "parameters": [
                    {
                        "description": "Candle batch",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handler.ingestBody"
                        }
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Accepted",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "integer"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/candles/{symbol}": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "candles"
                ],
                "summary": "Recent closing prices",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Asset symbol (e.g., BTC)",
                        "name": "symbol",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "description": "Number of closes",
                        "name": "limit",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": true
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/indicators": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "feedback"
                ],
                "summary": "Indicator trust scores",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": true
                        }
                    }
                }
            }
        },
        "/api/lessons/apply": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Applies the given lessons, or the lessons of the report for the given date when none are supplied. A report's lessons apply once.",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "reports"
                ],
                "summary": "Apply lessons",
                "parameters": [
                    {
                        "description": "Lessons or report date",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handler.applyBody"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/feedback.ApplySummary"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/metrics/accuracy": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "feedback"
                ],
                "summary": "Prediction accuracy metrics",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Asset symbol",
                        "name": "symbol",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Market type",
                        "name": "market_type",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Market regime",
                        "name": "regime",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": true
                        }
                    }
                }
            }
        },
        "/api/outcomes/resolve": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "feedback"
                ],
                "summary": "Resolve expired predictions now",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "integer"
                            }
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/predict": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Combines model, technical and sentiment signals for one symbol and records the forecast in the ledger",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "predictions"
                ],
                "summary": "Run the ensemble forecast",
                "parameters": [
                    {
                        "description": "Prediction request",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handler.predictBody"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.PredictResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/predictions/{id}": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "predictions"
                ],
                "summary": "Get a recorded prediction",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Prediction ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.PredictionRecord"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/reports/daily": {
            "get": {
                "description": "Builds the report for one UTC day without persisting it, defaulting to yesterday",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "reports"
                ],
                "summary": "Daily performance report",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Report date (YYYY-MM-DD)",
                        "name": "date",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.DailyReport"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/weights": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "weights"
                ],
                "summary": "Component weights and optimization history",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/optimizer.Summary"
                        }
                    }
                }
            }
        },
        "/api/weights/optimize": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Re-optimizes component weights without waiting for new evidence",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "weights"
                ],
                "summary": "Force a weight optimization",
                "parameters": [
                    {
                        "description": "Optimization scope",
                        "name": "request",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/handler.optimizeBody"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.OptimizedWeights"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/health": {
            "get": {
                "description": "Reports liveness along with the ledger size and pending evidence",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "health"
                ],
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": true
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "domain.AccuracyStat": {
            "type": "object",
            "properties": {
                "total": {
                    "type": "integer"
                },
                "correct": {
                    "type": "integer"
                },
                "accuracy": {
                    "type": "number"
                }
            }
        },
        "domain.CalibrationBucket": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "min": {
                    "type": "number"
                },
                "max": {
                    "type": "number"
                },
                "total": {
                    "type": "integer"
                },
                "correct": {
                    "type": "integer"
                },
                "accuracy": {
                    "type": "number"
                },
                "status": {
                    "type": "string"
                }
            }
        },
        "domain.DailyReport": {
            "type": "object",
            "properties": {
                "date": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                },
                "summary": {
                    "$ref": "#/definitions/domain.ReportSummary"
                },
                "component_accuracy": {
                    "type": "object",
                    "additionalProperties": {
                        "$ref": "#/definitions/domain.AccuracyStat"
                    }
                },
                "indicator_accuracy": {
                    "type": "object",
                    "additionalProperties": {
                        "$ref": "#/definitions/domain.AccuracyStat"
                    }
                },
                "regime_breakdown": {
                    "type": "object",
                    "additionalProperties": {
                        "$ref": "#/definitions/domain.AccuracyStat"
                    }
                },
                "confidence_calibration": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.CalibrationBucket"
                    }
                },
                "failure_reasons": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.ReasonCount"
                    }
                },
                "lessons": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.Lesson"
                    }
                },
                "analyses": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.PredictionAnalysis"
                    }
                },
                "generated_at": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "domain.EnsembleResult": {
            "type": "object",
            "properties": {
                "signal": {
                    "type": "number"
                },
                "direction": {
                    "type": "string"
                },
                "predicted_price": {
                    "type": "number"
                },
                "change_percent": {
                    "type": "number"
                },
                "confidence": {
                    "type": "string"
                },
                "per_model_signals": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "weights_used": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "model_count": {
                    "type": "integer"
                },
                "failed": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
            }
        },
        "domain.Lesson": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string"
                },
                "target": {
                    "type": "string"
                },
                "reason": {
                    "type": "string"
                },
                "action": {
                    "type": "string"
                },
                "severity": {
                    "type": "string"
                },
                "indicators": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
            }
        },
        "domain.OptimizedWeights": {
            "type": "object",
            "properties": {
                "component_weights": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "market_regime": {
                    "type": "string"
                },
                "optimization_confidence": {
                    "type": "number"
                },
                "sample_size": {
                    "type": "integer"
                },
                "timestamp": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "domain.PredictionAnalysis": {
            "type": "object",
            "properties": {
                "prediction_id": {
                    "type": "string"
                },
                "symbol": {
                    "type": "string"
                },
                "direction_correct": {
                    "type": "boolean"
                },
                "confidence_score": {
                    "type": "number"
                },
                "price_error_percent": {
                    "type": "number"
                },
                "market_regime": {
                    "type": "string"
                },
                "component_correct": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "boolean"
                    }
                },
                "indicator_correct": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "boolean"
                    }
                },
                "failure_reasons": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
            }
        },
        "domain.PredictionRecord": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "symbol": {
                    "type": "string"
                },
                "market_type": {
                    "type": "string"
                },
                "timeframe": {
                    "type": "string"
                },
                "predicted_direction": {
                    "type": "string"
                },
                "predicted_price": {
                    "type": "number"
                },
                "current_price": {
                    "type": "number"
                },
                "confidence_score": {
                    "type": "number"
                },
                "technical_signal": {
                    "type": "number"
                },
                "sentiment_signal": {
                    "type": "number"
                },
                "ml_signal": {
                    "type": "number"
                },
                "indicator_signals": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "weights_used": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "market_regime": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string",
                    "format": "date-time"
                },
                "expires_at": {
                    "type": "string",
                    "format": "date-time"
                },
                "status": {
                    "type": "string"
                },
                "actual_price": {
                    "type": "number"
                },
                "actual_direction": {
                    "type": "string"
                },
                "direction_correct": {
                    "type": "boolean"
                },
                "price_error_percent": {
                    "type": "number"
                },
                "resolved_at": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "domain.ReasonCount": {
            "type": "object",
            "properties": {
                "reason": {
                    "type": "string"
                },
                "count": {
                    "type": "integer"
                }
            }
        },
        "domain.ReportSummary": {
            "type": "object",
            "properties": {
                "total": {
                    "type": "integer"
                },
                "correct": {
                    "type": "integer"
                },
                "direction_accuracy": {
                    "type": "number"
                },
                "avg_price_error": {
                    "type": "number"
                },
                "avg_confidence": {
                    "type": "number"
                }
            }
        },
        "feedback.ApplySummary": {
            "type": "object",
            "properties": {
                "applied": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.Lesson"
                    }
                },
                "surfaced": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.Lesson"
                    }
                }
            }
        },
        "handler.applyBody": {
            "type": "object",
            "properties": {
                "date": {
                    "type": "string"
                },
                "lessons": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.Lesson"
                    }
                }
            }
        },
        "handler.candleBody": {
            "type": "object",
            "properties": {
                "symbol": {
                    "type": "string"
                },
                "interval": {
                    "type": "string"
                },
                "open_time": {
                    "type": "string",
                    "format": "date-time"
                },
                "open": {
                    "type": "number"
                },
                "high": {
                    "type": "number"
                },
                "low": {
                    "type": "number"
                },
                "close": {
                    "type": "number"
                },
                "volume": {
                    "type": "number"
                }
            },
            "required": [
                "open_time",
                "symbol"
            ]
        },
        "handler.ingestBody": {
            "type": "object",
            "properties": {
                "candles": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/handler.candleBody"
                    }
                }
            },
            "required": [
                "candles"
            ]
        },
        "handler.optimizeBody": {
            "type": "object",
            "properties": {
                "symbol": {
                    "type": "string"
                },
                "market_type": {
                    "type": "string"
                },
                "regime_symbol": {
                    "type": "string"
                }
            }
        },
        "handler.predictBody": {
            "type": "object",
            "properties": {
                "prediction_id": {
                    "type": "string"
                },
                "symbol": {
                    "type": "string"
                },
                "market_type": {
                    "type": "string"
                },
                "timeframe": {
                    "type": "string"
                },
                "current_price": {
                    "type": "number"
                },
                "prices": {
                    "type": "array",
                    "items": {
                        "type": "number"
                    }
                },
                "model_signals": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "indicator_signals": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "technical_signal": {
                    "type": "number"
                },
                "sentiment_signal": {
                    "type": "number"
                }
            },
            "required": [
                "current_price",
                "symbol",
                "timeframe"
            ]
        },
        "optimizer.Summary": {
            "type": "object",
            "properties": {
                "current": {
                    "$ref": "#/definitions/domain.OptimizedWeights"
                },
                "defaults": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "optimization_count": {
                    "type": "integer"
                },
                "last_optimized_at": {
                    "type": "string",
                    "format": "date-time"
                },
                "history": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.OptimizedWeights"
                    }
                }
            }
        },
        "service.PredictResponse": {
            "type": "object",
            "properties": {
                "prediction_id": {
                    "type": "string"
                },
                "symbol": {
                    "type": "string"
                },
                "market_type": {
                    "type": "string"
                },
                "timeframe": {
                    "type": "string"
                },
                "forecast": {
                    "$ref": "#/definitions/domain.EnsembleResult"
                },
                "model_ensemble": {
                    "$ref": "#/definitions/domain.EnsembleResult"
                },
                "technical_signal": {
                    "type": "number"
                },
                "sentiment_signal": {
                    "type": "number"
                },
                "ml_signal": {
                    "type": "number"
                },
                "indicator_signals": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "number"
                    }
                },
                "market_regime": {
                    "type": "string"
                },
                "confidence_score": {
                    "type": "number"
                },
                "created_at": {
                    "type": "string",
                    "format": "date-time"
                },
                "expires_at": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Adaptive Ensemble API",
	Description:      "Ensemble forecasts with outcome tracking and adaptive component weights.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

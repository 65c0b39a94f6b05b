package pack

// packSchema is the structural layer of pack validation (Draft 2020-12).
// Cross-field business rules live in validate.go; this schema only pins
// required fields, closed enums, and shapes.
const packSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://driftgate.dev/schemas/pack.schema.json",
  "type": "object",
  "required": ["id", "version", "name", "mode", "scope", "rules"],
  "properties": {
    "id": {"type": "string", "minLength": 1, "pattern": "^[a-z0-9][a-z0-9._-]*$"},
    "version": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "mode": {"enum": ["observe", "enforce"]},
    "strictness": {"enum": ["permissive", "balanced", "strict"]},
    "priority": {"type": "integer"},
    "mergeStrategy": {"enum": ["MOST_RESTRICTIVE", "HIGHEST_PRIORITY", "EXPLICIT"]},
    "scope": {
      "type": "object",
      "required": ["level"],
      "properties": {
        "level": {"enum": ["workspace", "service", "repo"]},
        "repoInclude": {"$ref": "#/$defs/stringList"},
        "repoExclude": {"$ref": "#/$defs/stringList"},
        "branchInclude": {"$ref": "#/$defs/stringList"},
        "branchExclude": {"$ref": "#/$defs/stringList"},
        "actorSignals": {"$ref": "#/$defs/stringList"}
      },
      "additionalProperties": false
    },
    "rules": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/rule"}
    },
    "evaluationConfig": {
      "type": "object",
      "properties": {
        "budgets": {
          "type": "object",
          "properties": {
            "maxTotalMs": {"type": "integer", "minimum": 1},
            "perComparatorTimeoutMs": {"type": "integer", "minimum": 1},
            "maxExternalCalls": {"type": "integer", "minimum": 1},
            "externalCallsPerSecond": {"type": "number", "exclusiveMinimum": 0}
          },
          "additionalProperties": false
        },
        "externalDependencyMode": {"enum": ["soft-fail", "hard-fail"]},
        "unknownArtifactMode": {"type": "string"},
        "maxFindings": {"type": "integer", "minimum": 1},
        "concurrency": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    },
    "routing": {
      "type": "object",
      "properties": {
        "report": {"type": "string"},
        "annotate": {"type": "boolean"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false,
  "$defs": {
    "stringList": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "rule": {
      "type": "object",
      "required": ["id", "trigger", "obligations"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "trigger": {
          "type": "object",
          "properties": {
            "always": {"type": "boolean"},
            "anyChangedPaths": {"$ref": "#/$defs/stringList"},
            "anySurfaces": {"$ref": "#/$defs/stringList"},
            "condition": {"$ref": "#/$defs/condition"}
          },
          "additionalProperties": false
        },
        "skipIf": {
          "type": "object",
          "properties": {
            "labels": {"$ref": "#/$defs/stringList"},
            "bodyMarkers": {"$ref": "#/$defs/stringList"},
            "allChangedPathsIn": {"$ref": "#/$defs/stringList"}
          },
          "additionalProperties": false
        },
        "excludePaths": {"$ref": "#/$defs/stringList"},
        "obligations": {
          "type": "array",
          "minItems": 1,
          "items": {"$ref": "#/$defs/obligation"}
        }
      },
      "additionalProperties": false
    },
    "obligation": {
      "type": "object",
      "required": ["decisionOnFail"],
      "properties": {
        "comparatorId": {"type": "string", "minLength": 1},
        "params": {"type": "object"},
        "condition": {"$ref": "#/$defs/condition"},
        "conditions": {"type": "array", "items": {"$ref": "#/$defs/condition"}},
        "decisionOnFail": {"enum": ["pass", "warn", "block"]},
        "decisionOnUnknown": {"enum": ["pass", "warn", "block"]},
        "severity": {"type": "string"},
        "message": {"type": "string"}
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "properties": {
        "fact": {"type": "string"},
        "operator": {"type": "string"},
        "value": {},
        "cel": {"type": "string"},
        "conditions": {"type": "array", "items": {"$ref": "#/$defs/condition"}}
      },
      "additionalProperties": false
    }
  }
}`

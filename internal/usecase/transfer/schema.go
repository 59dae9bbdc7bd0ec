package transfer

// importSchema validates a config export/import payload before any write
// happens. Engines carry full templates; preferences are a free-form
// key/value object.
const importSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "engines"],
  "properties": {
    "version": { "type": "integer", "minimum": 1 },
    "engines": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "urlTemplate"],
        "properties": {
          "id": { "type": "string" },
          "name": { "type": "string", "minLength": 1 },
          "urlTemplate": { "type": "string", "minLength": 1 },
          "icon": { "type": "string" },
          "color": { "type": "string", "pattern": "^#[0-9a-fA-F]{6}$" },
          "enabled": { "type": "boolean" },
          "isDefault": { "type": "boolean" },
          "sortOrder": { "type": "integer" }
        }
      }
    },
    "preferences": { "type": "object" }
  }
}`

// seedSchema validates the first-run seed file. Seed engines use the
// short "url" field name.
const seedSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["engines"],
  "properties": {
    "engines": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "url"],
        "properties": {
          "id": { "type": "string" },
          "name": { "type": "string", "minLength": 1 },
          "url": { "type": "string", "minLength": 1 },
          "icon": { "type": "string" },
          "color": { "type": "string" },
          "enabled": { "type": "boolean" },
          "isDefault": { "type": "boolean" },
          "sortOrder": { "type": "integer" }
        }
      }
    },
    "preferences": { "type": "object" }
  }
}`

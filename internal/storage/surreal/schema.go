package surreal

// SchemaSQL contains the table and index definitions for the SurrealDB backend.
const SchemaSQL = `
    -- ==========================================================================
    -- CONVERSATION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON conversation TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON conversation TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated_at ON conversation TYPE datetime;
    DEFINE FIELD IF NOT EXISTS metadata ON conversation TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS is_active ON conversation TYPE bool DEFAULT true;

    DEFINE INDEX IF NOT EXISTS conversation_user_updated ON conversation FIELDS user_id, updated_at;
    DEFINE INDEX IF NOT EXISTS conversation_created ON conversation FIELDS created_at;

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation_id ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS user_id ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS role ON message TYPE string;
    -- content is caller-defined: string or structured object/array
    DEFINE FIELD IF NOT EXISTS content ON message FLEXIBLE TYPE any;
    DEFINE FIELD IF NOT EXISTS message_type ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime;
    DEFINE FIELD IF NOT EXISTS seq ON message TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS metadata ON message TYPE option<object> FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS message_conversation ON message FIELDS conversation_id, created_at, seq;

    -- ==========================================================================
    -- USER SUMMARY TABLE (one rolling summary per user)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS user_summary SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON user_summary TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON user_summary TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON user_summary TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS conversation_ids ON user_summary TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS created_at ON user_summary TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated_at ON user_summary TYPE datetime;

    DEFINE INDEX IF NOT EXISTS user_summary_user ON user_summary FIELDS user_id UNIQUE;
`

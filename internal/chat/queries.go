package chat

// Schema statements per gorm dialector name. Foreign keys cascade from Chat
// to Request to Message; the repo also deletes children explicitly so a
// connection without foreign key enforcement behaves the same.
var schemaStatements = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS Chat (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL DEFAULT 'New Chat',
			system_message TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS Request (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			model TEXT NOT NULL,
			created INTEGER NOT NULL,
			parameters TEXT DEFAULT NULL,
			finish_reason TEXT DEFAULT NULL,
			FOREIGN KEY (chat_id) REFERENCES Chat(id) ON UPDATE CASCADE ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS Message (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id INTEGER,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tokens INTEGER DEFAULT NULL,
			FOREIGN KEY (request_id) REFERENCES Request(id) ON UPDATE CASCADE ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_chat_id ON Request(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_message_request_id ON Message(request_id)`,
		`DROP VIEW IF EXISTS MessageListView`,
		`CREATE VIEW MessageListView AS ` + messageListViewBody,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS Chat (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			title VARCHAR(512) NOT NULL DEFAULT 'New Chat',
			system_message TEXT
		) DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS Request (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			chat_id BIGINT NOT NULL,
			model VARCHAR(128) NOT NULL,
			created BIGINT NOT NULL,
			parameters JSON NULL,
			finish_reason VARCHAR(64) NULL,
			INDEX idx_request_chat_id (chat_id),
			FOREIGN KEY (chat_id) REFERENCES Chat(id) ON UPDATE CASCADE ON DELETE CASCADE
		) DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS Message (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			request_id BIGINT NULL,
			role VARCHAR(16) NOT NULL,
			content LONGTEXT NOT NULL,
			tokens INT NULL,
			INDEX idx_message_request_id (request_id),
			FOREIGN KEY (request_id) REFERENCES Request(id) ON UPDATE CASCADE ON DELETE CASCADE
		) DEFAULT CHARSET=utf8mb4`,
		`CREATE OR REPLACE VIEW MessageListView AS ` + messageListViewBody,
	},
}

// messageListViewBody reconstructs one row per Request with its Chat, its
// prompt and its completion.
const messageListViewBody = `
SELECT
	Chat.id AS chat_id,
	Chat.title AS chat_title,
	COALESCE(Chat.system_message, '') AS system_message,
	Request.id AS request_id,
	Request.model AS model,
	Request.created AS completion_created,
	Request.parameters AS parameters,
	Request.finish_reason AS finish_reason,
	Prompt.content AS prompt,
	Completion.content AS completion,
	Prompt.tokens AS prompt_tokens,
	Completion.tokens AS completion_tokens
FROM Chat
	LEFT JOIN Request ON Chat.id = Request.chat_id
	LEFT JOIN (SELECT request_id, content, tokens FROM Message WHERE role = 'user') AS Prompt
		ON Request.id = Prompt.request_id
	LEFT JOIN (SELECT request_id, content, tokens FROM Message WHERE role = 'assistant') AS Completion
		ON Request.id = Completion.request_id`

const selectAllExchanges = `SELECT * FROM MessageListView ORDER BY request_id, chat_id`

const selectChatExchanges = `SELECT * FROM MessageListView WHERE chat_id = ? AND request_id IS NOT NULL ORDER BY request_id`

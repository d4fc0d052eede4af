package web

// dashboardTemplate — единственная страница панели. Данные подтягиваются из
// JSON API той же сессией, без серверного рендеринга состояния.
const dashboardTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: ui-monospace, monospace; background: #f5f5f5; margin: 0; padding: 24px; }
        h1 { font-size: 20px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); gap: 16px; }
        .card { background: #fff; border-radius: 8px; padding: 16px; box-shadow: 0 1px 3px rgba(0,0,0,.15); }
        .card h2 { font-size: 14px; margin: 0 0 8px; color: #555; text-transform: uppercase; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { padding: 4px 6px; text-align: left; border-bottom: 1px solid #eee; }
        .ok { color: #15803d; } .bad { color: #b91c1c; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <div class="grid">
        <div class="card"><h2>Status</h2><div id="status">Loading...</div></div>
        <div class="card"><h2>Pairs</h2><div id="pairs">Loading...</div></div>
        <div class="card"><h2>Bots</h2><div id="bots">Loading...</div></div>
    </div>
    <script>
        function cell(v) { return '<td>' + v + '</td>'; }
        function mark(ok, yes, no) { return ok ? '<span class="ok">' + yes + '</span>' : '<span class="bad">' + no + '</span>'; }

        fetch('/api/status').then(r => r.json()).then(s => {
            document.getElementById('status').innerHTML =
                '<table>' +
                '<tr><td>Connection</td>' + cell(mark(s.online, 'online', 'offline')) + '</tr>' +
                '<tr><td>Publishing</td>' + cell(mark(!s.paused, 'running', 'paused')) + '</tr>' +
                '<tr><td>Uptime</td>' + cell(s.uptime) + '</tr>' +
                '<tr><td>Queue</td>' + cell(s.queue_depth + ' / ' + s.queue_capacity + ' (dropped ' + s.queue_dropped + ')') + '</tr>' +
                '<tr><td>Copied / Failed</td>' + cell(s.messages_copied + ' / ' + s.messages_failed) + '</tr>' +
                '</table>';
        });

        fetch('/api/pairs').then(r => r.json()).then(pairs => {
            if (!pairs.length) { document.getElementById('pairs').textContent = 'No pairs configured.'; return; }
            let html = '<table><tr><th>ID</th><th>Name</th><th>Route</th><th>Bot</th><th>Copied</th><th></th></tr>';
            for (const p of pairs) {
                html += '<tr>' + cell(p.id) + cell(p.name) +
                    cell(p.source_chat_id + ' → ' + p.destination_chat_id) +
                    cell(p.bot_index) + cell(p.messages_copied) +
                    cell(mark(p.active, 'active', 'paused')) + '</tr>';
            }
            document.getElementById('pairs').innerHTML = html + '</table>';
        });

        fetch('/api/metrics').then(r => r.json()).then(m => {
            let html = '<table><tr><th>#</th><th>Bot</th><th>Processed</th><th>Success</th><th>Errors</th><th></th></tr>';
            for (const b of m.bots) {
                html += '<tr>' + cell(b.index) + cell('@' + b.username) +
                    cell(b.messages_processed) + cell((b.success_rate * 100).toFixed(1) + '%') +
                    cell(b.error_count) + cell(mark(b.healthy, 'healthy', 'failing')) + '</tr>';
            }
            document.getElementById('bots').innerHTML = html + '</table>';
        });
    </script>
</body>
</html>`

// unauthorizedPage показывается при отсутствии валидной сессии.
const unauthorizedPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authentication Required</title>
    <style>
        body { font-family: ui-monospace, monospace; background: #f5f5f5; display: flex;
               align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
        .card { background: #fff; border-radius: 8px; padding: 32px; max-width: 420px;
                box-shadow: 0 1px 3px rgba(0,0,0,.15); }
        code { background: #eee; padding: 2px 6px; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Authentication Required</h1>
        <p>Send the <code>/dashboard</code> command to the admin bot to receive a one-time access link.</p>
    </div>
</body>
</html>`

package dashboard

const pageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>jamwatch - Model Monitor</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 1400px; margin: 0 auto; }
        .header { background: linear-gradient(135deg, #2f80ed 0%, #1b4f91 100%); color: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; }
        .header h1 { margin: 0; font-size: 2em; text-align: center; }
        .status-bar { display: flex; justify-content: space-between; background: white; padding: 15px; border-radius: 8px; margin-bottom: 20px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(500px, 1fr)); gap: 20px; }
        .card { background: white; border-radius: 10px; padding: 20px; box-shadow: 0 4px 6px rgba(0,0,0,0.1); }
        .card h3 { margin-top: 0; color: #333; border-bottom: 2px solid #eee; padding-bottom: 10px; }
        .metric { display: flex; justify-content: space-between; padding: 8px 0; border-bottom: 1px solid #eee; }
        .metric-label { font-weight: 500; color: #666; }
        .metric-value { font-weight: bold; color: #333; }
        canvas { width: 100%; height: 260px; }
        #structure img { max-width: 100%; }
    </style>
</head>
<body>
<div class="container">
    <div class="header"><h1>Traffic Jam Model Monitor</h1></div>
    <div class="status-bar">
        <span id="model">Model: --</span>
        <span id="samples">Samples: 0</span>
        <span id="last-update">Last Updated: --</span>
    </div>
    <div class="grid">
        <div class="card"><h3>Accuracy</h3><canvas id="accuracy" width="600" height="260"></canvas></div>
        <div class="card"><h3>F1 Score</h3><canvas id="f1" width="600" height="260"></canvas></div>
        <div class="card">
            <h3>Latest Validation</h3>
            <div class="metric"><span class="metric-label">Period</span><span class="metric-value" id="period">--</span></div>
            <div class="metric"><span class="metric-label">Accuracy</span><span class="metric-value" id="last-accuracy">--</span></div>
            <div class="metric"><span class="metric-label">Recall</span><span class="metric-value" id="last-recall">--</span></div>
            <div class="metric"><span class="metric-label">Recall uncertainty</span><span class="metric-value" id="last-uncertainty">--</span></div>
            <div class="metric"><span class="metric-label">F1</span><span class="metric-value" id="last-f1">--</span></div>
        </div>
        <div class="card"><h3>Model Structure (tree 0)</h3><div id="structure"><img src="/structure" alt="no model loaded"></div></div>
    </div>
</div>
<script>
    const batchAccuracy = {{.BatchAccuracy}};
    const batchF1 = {{.BatchF1}};
    let samples = [];

    function fmt(v) { return v === null || v === undefined ? 'n/a' : v.toFixed(3); }

    function draw(id, key, reference) {
        const canvas = document.getElementById(id);
        const ctx = canvas.getContext('2d');
        const w = canvas.width, h = canvas.height, pad = 30;
        ctx.clearRect(0, 0, w, h);
        ctx.strokeStyle = '#ccc';
        ctx.strokeRect(pad, 10, w - pad - 10, h - pad - 10);
        const y = v => 10 + (1 - v) * (h - pad - 10);
        const x = i => pad + (samples.length < 2 ? 0 : i * (w - pad - 10) / (samples.length - 1));
        if (reference > 0) {
            ctx.setLineDash([6, 4]);
            ctx.strokeStyle = '#888';
            ctx.beginPath(); ctx.moveTo(pad, y(reference)); ctx.lineTo(w - 10, y(reference)); ctx.stroke();
            ctx.setLineDash([]);
        }
        ctx.strokeStyle = '#2f80ed';
        ctx.beginPath();
        let started = false;
        samples.forEach((s, i) => {
            const v = s[key];
            if (v === null) { started = false; return; }
            if (!started) { ctx.moveTo(x(i), y(v)); started = true; } else { ctx.lineTo(x(i), y(v)); }
        });
        ctx.stroke();
    }

    function render(update) {
        document.getElementById('model').textContent = 'Model: ' + (update.model || '--');
        document.getElementById('samples').textContent = 'Samples: ' + samples.length;
        document.getElementById('last-update').textContent = 'Last Updated: ' + new Date(update.timestamp).toLocaleTimeString();
        if (samples.length > 0) {
            const last = samples[samples.length - 1];
            document.getElementById('period').textContent = last.period;
            document.getElementById('last-accuracy').textContent = fmt(last.accuracy);
            document.getElementById('last-recall').textContent = fmt(last.recall);
            document.getElementById('last-uncertainty').textContent = fmt(last.recall_uncertainty);
            document.getElementById('last-f1').textContent = fmt(last.f1);
        }
        draw('accuracy', 'accuracy', batchAccuracy);
        draw('f1', 'f1', batchF1);
    }

    function connect() {
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
        ws.onmessage = event => {
            const update = JSON.parse(event.data);
            const last = samples.length ? samples[samples.length - 1].iteration : 0;
            (update.samples || []).forEach(s => { if (s.iteration > last) samples.push(s); });
            render(update);
        };
        ws.onclose = () => setTimeout(connect, 2000);
    }
    connect();
</script>
</body>
</html>
`

package bot

const guideFileName = "telegrab_guide.html"

const guideText = `<b>Telegrab — Guide</b>

<b>What it can do</b>
• /get &lt;url&gt; [video|audio] [360|480|720] — download a single video or audio track
• /getall &lt;channel_or_playlist_url&gt; [video|audio] [360|480|720] [limit=ALL|N] — download a batch

<b>Tips</b>
• For a channel, use the URL of it's /videos tab (e.g. https://www.youtube.com/@YourChannel/videos)
• Oversized files are re-encoded down to roughly 49 MB. For best reliability ask for "video 360".
• Only download content you have the rights to.

<b>Telegram limits</b>
• Through the public Bot API: uploads up to roughly 50 MB per file.
• Through a Local Bot API Server: up to 2 GB.

<b>Commands</b>
/start — brief help
/help — this guide
/guide — receive this guide as a file
/getall — batch download from a channel or playlist
/status — active downloads
/cancel &lt;id&gt; — abort a download
/history [n] — recently completed downloads`

const startText = `Hi! Send a command like:
/get <YouTube URL> [video|audio] [360|480|720]

For example:
/get https://youtu.be/dQw4w9WgXcQ
/get https://youtu.be/dQw4w9WgXcQ audio
/get https://youtu.be/dQw4w9WgXcQ video 480

⚠️ Only download content you have the rights to.

More commands: /help /guide /getall /status /history`
